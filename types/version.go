package types

// Version is the canonical project version.
// The CLI, the schema document format and the capture record format share
// this version.
const Version = "0.4.0"

// CaptureFormatVersion tags capture records. It moves in lockstep with Version.
const CaptureFormatVersion = Version
