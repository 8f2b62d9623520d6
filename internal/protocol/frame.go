// Package protocol implements the peer-to-peer chat wire format: five frame
// variants, two interchangeable codecs and a streaming frame reader.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIncomplete      = errors.New("incomplete frame")
	ErrMalformed       = errors.New("malformed frame")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrFrameTooLarge   = errors.New("frame exceeds size limit")
	ErrUnknownWire     = errors.New("unknown wire format")
)

// Frame is one decoded protocol unit. Every variant carries the username of
// the peer that produced it.
type Frame interface {
	Type() FrameType
	Peer() string
}

type ConnectRequest struct {
	Username string
}

func (ConnectRequest) Type() FrameType { return FrameConnect }
func (f ConnectRequest) Peer() string { return f.Username }

type Accepted struct {
	Username string
}

func (Accepted) Type() FrameType { return FrameAccepted }
func (f Accepted) Peer() string { return f.Username }

type ChatMessage struct {
	Username string
	Text     string
}

func (ChatMessage) Type() FrameType { return FrameChat }
func (f ChatMessage) Peer() string { return f.Username }

type FileTransfer struct {
	Username string
	Filename string
	Payload  []byte
}

func (FileTransfer) Type() FrameType { return FrameFile }
func (f FileTransfer) Peer() string { return f.Username }

type Closed struct {
	Username string
}

func (Closed) Type() FrameType { return FrameClosed }
func (f Closed) Peer() string { return f.Username }

// ValidateUsername reports whether name can be carried in the username slot
// of every frame variant.
func ValidateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if strings.ContainsAny(name, ",<>") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidUsername, name)
	}
	// Usernames end up in file names of received files.
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q is not a plain name", ErrInvalidUsername, name)
	}
	return nil
}

// ValidateFilename reports whether name can be carried in a file frame.
func ValidateFilename(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFilename)
	}
	if strings.Contains(name, Separator) || strings.Contains(name, Terminator) {
		return fmt.Errorf("%w: %q contains a delimiter", ErrInvalidFilename, name)
	}
	return nil
}

func validateFrame(f Frame) error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrMalformed)
	}
	if err := ValidateUsername(f.Peer()); err != nil {
		return err
	}
	if ft, ok := f.(FileTransfer); ok {
		return ValidateFilename(ft.Filename)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return bytes.Clone(b)
}
