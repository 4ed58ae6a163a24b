package utils

import "fmt"

// ConfigError aborts a run before any item starts. It is the only error
// the run function itself returns; per-item failures live in Outcomes.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.Reason)
}

// ProtocolError is an unexpected HTTP status code for an item. 5xx codes
// are retried; other codes fail the item immediately.
type ProtocolError struct {
	Code int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// FilesystemError fails an item without retrying; re-attempting a path
// that cannot be opened or written is pointless.
type FilesystemError struct {
	Op  string
	Err error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("error %s: %v", e.Op, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// SizeMismatchError records a stream whose length disagrees with the
// declared total. The bytes already on disk are left untouched.
type SizeMismatchError struct {
	Want int64
	Got  int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d bytes, got %d", e.Want, e.Got)
}
