// Package types defines the session identity shared by the link, capture
// and logging layers.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"

	"github.com/google/uuid"
)

// SessionMeta identifies one protocol session: a message set spoken over
// one transport.
type SessionMeta struct {
	// SessionID is globally unique. See NewSessionID.
	SessionID string
	// Protocol is the message set name.
	Protocol string
	// Transport is the transport kind ("tcp", "redis", "stdio", ...).
	Transport string
	// Framing is the framing name ("length" or "cobs").
	Framing string
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewSessionMeta returns session metadata with a fresh session id.
func NewSessionMeta(protocol, transport, framing string) *SessionMeta {
	return &SessionMeta{
		SessionID: NewSessionID(),
		Protocol:  protocol,
		Transport: transport,
		Framing:   framing,
	}
}

// Validate checks that identity fields are present.
func (m *SessionMeta) Validate() error {
	if m.SessionID == "" {
		return errors.New("session_id must be non-empty")
	}
	if m.Protocol == "" {
		return errors.New("protocol must be non-empty")
	}
	return nil
}

// Direction is the direction of a frame relative to this side.
type Direction string

const (
	// DirectionTx is a frame this side sent.
	DirectionTx Direction = "tx"
	// DirectionRx is a frame this side received.
	DirectionRx Direction = "rx"
)
