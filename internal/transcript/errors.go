package transcript

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitialized = errors.New("window already initialized")
	ErrNotInitialized     = errors.New("window not initialized")
	ErrDuplicateMessage   = errors.New("message already in window")
	ErrClosed             = errors.New("session view closed")
)

// FetchError is a network or server failure during a page fetch. The Window
// is never modified when one is returned; the user may retry.
type FetchError struct {
	SessionID string
	After     Cursor
	Err       error
}

func (e *FetchError) Error() string {
	if e.After == "" {
		return fmt.Sprintf("fetch newest page of %s: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("fetch page of %s after %s: %v", e.SessionID, e.After, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ProtocolError is a malformed fetch response or live frame. For the user it
// behaves like a FetchError; it is logged separately.
type ProtocolError struct {
	SessionID string
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation in session %s: %s", e.SessionID, e.Reason)
}

// ChannelError is a failure of the live subscription. It never reaches the
// user; the view degrades to pagination only.
type ChannelError struct {
	SessionID string
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("live channel for %s: %v", e.SessionID, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// IsFetchFailure reports whether err should be presented as a failed load
// (transport failures and protocol violations alike).
func IsFetchFailure(err error) bool {
	var fe *FetchError
	var pe *ProtocolError
	return errors.As(err, &fe) || errors.As(err, &pe)
}

func protocolErrorf(sessionID, format string, args ...any) *ProtocolError {
	return &ProtocolError{SessionID: sessionID, Reason: fmt.Sprintf(format, args...)}
}
