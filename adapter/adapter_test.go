package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errPermanent = errors.New("permanent")

func TestRetry(t *testing.T) {
	tests := []struct {
		name         string
		retries      int
		failures     int // attempts that fail before success
		fail         error
		wantErr      bool
		wantAttempts int
	}{
		{"first try", 3, 0, errors.New("transient"), false, 1},
		{"succeeds after retries", 3, 2, errors.New("transient"), false, 3},
		{"exhausted", 2, 10, errors.New("transient"), true, 3},
		{"no retries", 0, 10, errors.New("transient"), true, 1},
		{"permanent stops early", 5, 10, errPermanent, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(t.Context(), tt.retries, time.Millisecond, func(context.Context) error {
				attempts++
				if attempts <= tt.failures {
					return tt.fail
				}
				return nil
			}, func(err error) bool { return errors.Is(err, errPermanent) })

			if (err != nil) != tt.wantErr {
				t.Fatalf("Retry err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, tt.fail) {
				t.Errorf("Retry err = %v, want wrapping %v", err, tt.fail)
			}
			if attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.wantAttempts)
			}
		})
	}
}

func TestRetry_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	attempts := 0
	err := Retry(ctx, 3, time.Hour, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
