package ftp

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by commands issued on a closed client.
var ErrNotConnected = errors.New("ftp: not connected")

// ProtocolError is a reply the command did not expect, with the context
// of the exchange.
type ProtocolError struct {
	// Command is the FTP verb that was sent (e.g., "STOR")
	Command string

	// Response is the reply text received from the server
	Response string

	// Code is the numeric FTP response code (e.g., 550)
	Code int
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftp: %s failed: %s (code %d)", e.Command, e.Response, e.Code)
}

// Is4xx returns true if the error code is in the 4xx range (temporary failure).
func (e *ProtocolError) Is4xx() bool {
	return e.Code >= 400 && e.Code < 500
}

// Is5xx returns true if the error code is in the 5xx range (permanent failure).
func (e *ProtocolError) Is5xx() bool {
	return e.Code >= 500 && e.Code < 600
}

// IsTemporary returns true if the error is a temporary failure (4xx).
// The command may succeed if reissued.
func (e *ProtocolError) IsTemporary() bool {
	return e.Is4xx()
}

// IsPermanent returns true if the error is a permanent failure (5xx).
func (e *ProtocolError) IsPermanent() bool {
	return e.Is5xx()
}

// ReplyCode returns the FTP reply code carried by err, or 0.
func ReplyCode(err error) int {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}
