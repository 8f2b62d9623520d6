package protocol

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldType     protowire.Number = 1
	fieldUsername protowire.Number = 2
	fieldText     protowire.Number = 3
	fieldFilename protowire.Number = 4
	fieldPayload  protowire.Number = 5
)

// FramedCodec prefixes every frame with its 4-byte big-endian length and
// encodes the body as protobuf wire fields. It does not interoperate with
// DelimitedCodec; payloads may contain any byte sequence.
type FramedCodec struct{}

func NewFramedCodec() *FramedCodec {
	return &FramedCodec{}
}

func (c *FramedCodec) Name() string {
	return WireFramed
}

func (c *FramedCodec) Encode(f Frame) ([]byte, error) {
	if err := validateFrame(f); err != nil {
		return nil, err
	}

	body := make([]byte, 0, 64)
	body = protowire.AppendTag(body, fieldType, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(f.Type()))
	body = protowire.AppendTag(body, fieldUsername, protowire.BytesType)
	body = protowire.AppendString(body, f.Peer())

	switch m := f.(type) {
	case ConnectRequest, Accepted, Closed:
	case ChatMessage:
		body = protowire.AppendTag(body, fieldText, protowire.BytesType)
		body = protowire.AppendString(body, m.Text)
	case FileTransfer:
		body = protowire.AppendTag(body, fieldFilename, protowire.BytesType)
		body = protowire.AppendString(body, m.Filename)
		body = protowire.AppendTag(body, fieldPayload, protowire.BytesType)
		body = protowire.AppendBytes(body, m.Payload)
	default:
		return nil, fmt.Errorf("%w: unsupported frame %T", ErrMalformed, f)
	}

	out := make([]byte, lengthPrefixSize, lengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

func (c *FramedCodec) Decode(buf []byte) (Frame, []byte, error) {
	if len(buf) < lengthPrefixSize {
		return nil, buf, ErrIncomplete
	}

	size := binary.BigEndian.Uint32(buf)
	if uint64(len(buf)-lengthPrefixSize) < uint64(size) {
		return nil, buf, ErrIncomplete
	}

	end := lengthPrefixSize + int(size)
	f, err := decodeFramedBody(buf[lengthPrefixSize:end])
	if err != nil {
		return nil, buf[end:], err
	}
	return f, buf[end:], nil
}

// FrameSize reports the total wire size announced by a length prefix, or -1
// if buf is too short to hold one.
func (c *FramedCodec) FrameSize(buf []byte) int {
	if len(buf) < lengthPrefixSize {
		return -1
	}
	return lengthPrefixSize + int(binary.BigEndian.Uint32(buf))
}

func decodeFramedBody(body []byte) (Frame, error) {
	var (
		kind                 uint64
		user, text, filename string
		payload              []byte
		hasKind, hasUser     bool
	)

	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		body = body[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			kind, hasKind = v, true
			body = body[n:]
		case num >= fieldUsername && num <= fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			switch num {
			case fieldUsername:
				user, hasUser = string(v), true
			case fieldText:
				text = string(v)
			case fieldFilename:
				filename = string(v)
			case fieldPayload:
				payload = cloneBytes(v)
			}
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}

	if !hasKind || !hasUser {
		return nil, fmt.Errorf("%w: missing type or username", ErrMalformed)
	}
	if err := ValidateUsername(user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch FrameType(kind) {
	case FrameConnect:
		return ConnectRequest{Username: user}, nil
	case FrameAccepted:
		return Accepted{Username: user}, nil
	case FrameChat:
		return ChatMessage{Username: user, Text: text}, nil
	case FrameFile:
		if err := ValidateFilename(filename); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return FileTransfer{Username: user, Filename: filename, Payload: payload}, nil
	case FrameClosed:
		return Closed{Username: user}, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %d", ErrMalformed, kind)
	}
}
