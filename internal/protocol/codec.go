package protocol

import (
	"bytes"
	"fmt"
	"io"
)

// Codec turns frames into wire bytes and back.
//
// Decode inspects buf from its first byte. A complete frame is returned with
// the bytes that follow it. ErrIncomplete is returned with buf unchanged when
// more input is needed. ErrMalformed is returned with the bytes that follow
// the rejected frame so the caller can drop it and keep reading.
type Codec interface {
	Name() string
	Encode(f Frame) ([]byte, error)
	Decode(buf []byte) (Frame, []byte, error)
}

func NewCodec(wire string) (Codec, error) {
	switch wire {
	case "", WireDelimited:
		return NewDelimitedCodec(), nil
	case WireFramed:
		return NewFramedCodec(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWire, wire)
	}
}

func WriteFrame(w io.Writer, c Codec, f Frame) error {
	data, err := c.Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DelimitedCodec speaks the terminator-delimited text format:
//
//	<alice,connected<EOF>>
//	<alice,accepted<EOF>>
//	<alice,msg,hello<EOF>>
//	<alice<SEP>filename<SEP>notes.txt<SEP>data<SEP>...raw bytes...<EOF>>
//	<alice,closed<EOF>>
//
// The terminator is never escaped. Text or file content containing "<EOF>>"
// ends the frame early and the remainder is decoded as a separate frame.
type DelimitedCodec struct{}

func NewDelimitedCodec() *DelimitedCodec {
	return &DelimitedCodec{}
}

func (c *DelimitedCodec) Name() string {
	return WireDelimited
}

func (c *DelimitedCodec) Encode(f Frame) ([]byte, error) {
	if err := validateFrame(f); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(frameOpen)
	buf.WriteString(f.Peer())

	switch m := f.(type) {
	case ConnectRequest:
		buf.WriteString("," + keywordConnected)
	case Accepted:
		buf.WriteString("," + keywordAccepted)
	case ChatMessage:
		buf.WriteString("," + keywordMsg)
		buf.WriteString(m.Text)
	case FileTransfer:
		buf.WriteString(Separator + keywordFilename + Separator)
		buf.WriteString(m.Filename)
		buf.WriteString(Separator + keywordData + Separator)
		buf.Write(m.Payload)
	case Closed:
		buf.WriteString("," + keywordClosed)
	default:
		return nil, fmt.Errorf("%w: unsupported frame %T", ErrMalformed, f)
	}

	buf.WriteString(Terminator)
	return buf.Bytes(), nil
}

// ScanFrame reports whether buf holds a terminator at or after from. When it
// does not, next is where the following scan of a longer buf may start; a
// terminator split across reads is still found.
func (c *DelimitedCodec) ScanFrame(buf []byte, from int) (complete bool, next int) {
	if from < 0 || from > len(buf) {
		from = 0
	}
	if bytes.Contains(buf[from:], []byte(Terminator)) {
		return true, from
	}
	return false, max(len(buf)-len(Terminator)+1, 0)
}

func (c *DelimitedCodec) Decode(buf []byte) (Frame, []byte, error) {
	end := bytes.Index(buf, []byte(Terminator))
	if end < 0 {
		return nil, buf, ErrIncomplete
	}

	rest := buf[end+len(Terminator):]
	f, err := decodeDelimitedBody(buf[:end])
	if err != nil {
		return nil, rest, err
	}
	return f, rest, nil
}

// decodeDelimitedBody classifies the bytes between the opening '<' and the
// terminator. The username ends at the first ',' or separator, whichever comes
// first; the exact keywords are matched before the "msg," prefix.
func decodeDelimitedBody(body []byte) (Frame, error) {
	if len(body) == 0 || body[0] != frameOpen {
		return nil, fmt.Errorf("%w: missing opening '<'", ErrMalformed)
	}
	body = body[1:]

	comma := bytes.IndexByte(body, ',')
	sep := bytes.Index(body, []byte(Separator))

	if sep >= 0 && (comma < 0 || sep < comma) {
		user, err := decodeUsername(body[:sep])
		if err != nil {
			return nil, err
		}
		return decodeFileBody(user, body[sep+len(Separator):])
	}

	if comma < 0 {
		return nil, fmt.Errorf("%w: no frame keyword", ErrMalformed)
	}

	user, err := decodeUsername(body[:comma])
	if err != nil {
		return nil, err
	}

	tail := body[comma+1:]
	switch string(tail) {
	case keywordConnected:
		return ConnectRequest{Username: user}, nil
	case keywordAccepted:
		return Accepted{Username: user}, nil
	case keywordClosed:
		return Closed{Username: user}, nil
	}

	if bytes.HasPrefix(tail, []byte(keywordMsg)) {
		return ChatMessage{Username: user, Text: string(tail[len(keywordMsg):])}, nil
	}

	return nil, fmt.Errorf("%w: unknown keyword %q", ErrMalformed, truncate(tail, 16))
}

func decodeFileBody(user string, body []byte) (Frame, error) {
	head := []byte(keywordFilename + Separator)
	if !bytes.HasPrefix(body, head) {
		return nil, fmt.Errorf("%w: file frame without filename field", ErrMalformed)
	}
	body = body[len(head):]

	nameEnd := bytes.Index(body, []byte(Separator))
	if nameEnd <= 0 {
		return nil, fmt.Errorf("%w: file frame without name", ErrMalformed)
	}
	name := string(body[:nameEnd])
	body = body[nameEnd+len(Separator):]

	data := []byte(keywordData + Separator)
	if !bytes.HasPrefix(body, data) {
		return nil, fmt.Errorf("%w: file frame without data field", ErrMalformed)
	}

	return FileTransfer{
		Username: user,
		Filename: name,
		Payload:  cloneBytes(body[len(data):]),
	}, nil
}

func decodeUsername(b []byte) (string, error) {
	name := string(b)
	if err := ValidateUsername(name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return name, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
