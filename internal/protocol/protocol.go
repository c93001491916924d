// Package protocol implements the binary envelope codec shared by both
// endpoints.
//
// Every frame is a one-byte envelope tag followed by tag-specific fields.
// Multi-byte framing integers are big-endian. Decoded payloads reference the
// input buffer for performance - callers must not modify them.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/UkoeHB/simplenet"
)

// EnvelopeType tags a frame with its logical stream.
type EnvelopeType byte

const (
	// EnvAuth carries the authentication opening exchange. Client to server
	// it holds the auth frame; server to client a bare tag acknowledges
	// admission.
	EnvAuth EnvelopeType = iota + 1
	// EnvMsg is a one-shot message in either direction.
	EnvMsg
	// EnvRequest is a client request awaiting a terminal result.
	EnvRequest
	// EnvResponse answers a request with a payload.
	EnvResponse
	// EnvAck consumes a request with no payload.
	EnvAck
	// EnvReject refuses a request.
	EnvReject
)

const (
	tagSize       = 1
	requestIDSize = 8
	secretSize    = simplenet.SecretAuthBytes
	clientIDSize  = 16
	tokenSize     = clientIDSize + 8 + simplenet.AuthTokenSignatureBytes

	// maxFrameSize is an absolute cap on encoded frames, independent of the
	// configurable per-endpoint max_msg_size.
	maxFrameSize = 16 * 1024 * 1024
)

var (
	ErrFrameTooShort = errors.New("frame too short")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrUnknownTag    = errors.New("unknown envelope tag")
)

// Envelope is a decoded post-handshake frame. RequestID is meaningful for
// request, response, ack, and reject envelopes.
type Envelope struct {
	Type      EnvelopeType
	RequestID uint64
	Payload   []byte
}

func encodeTagged(tag EnvelopeType, payload []byte) ([]byte, error) {
	if tagSize+len(payload) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	out := make([]byte, tagSize+len(payload))
	out[0] = byte(tag)
	copy(out[tagSize:], payload)
	return out, nil
}

func encodeRequestID(tag EnvelopeType, id uint64, payload []byte) ([]byte, error) {
	if tagSize+requestIDSize+len(payload) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	out := make([]byte, tagSize+requestIDSize+len(payload))
	out[0] = byte(tag)
	binary.BigEndian.PutUint64(out[tagSize:], id)
	copy(out[tagSize+requestIDSize:], payload)
	return out, nil
}

// EncodeMsg encodes a one-shot message envelope.
func EncodeMsg(payload []byte) ([]byte, error) {
	return encodeTagged(EnvMsg, payload)
}

// EncodeRequest encodes a client request envelope.
func EncodeRequest(requestID uint64, payload []byte) ([]byte, error) {
	return encodeRequestID(EnvRequest, requestID, payload)
}

// EncodeResponse encodes a server response envelope.
func EncodeResponse(requestID uint64, payload []byte) ([]byte, error) {
	return encodeRequestID(EnvResponse, requestID, payload)
}

// EncodeAck encodes a server acknowledgement envelope.
func EncodeAck(requestID uint64) []byte {
	out, _ := encodeRequestID(EnvAck, requestID, nil)
	return out
}

// EncodeReject encodes a server rejection envelope.
func EncodeReject(requestID uint64) []byte {
	out, _ := encodeRequestID(EnvReject, requestID, nil)
	return out
}

// EncodeAuthAck encodes the server's admission acknowledgement.
func EncodeAuthAck() []byte {
	return []byte{byte(EnvAuth)}
}

// Decode decodes a post-handshake frame. An EnvAuth result with an empty
// payload is the server's admission acknowledgement; full auth frames are
// decoded with DecodeAuth.
func Decode(data []byte) (Envelope, error) {
	if len(data) < tagSize {
		return Envelope{}, ErrFrameTooShort
	}
	if len(data) > maxFrameSize {
		return Envelope{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	tag := EnvelopeType(data[0])
	body := data[tagSize:]
	switch tag {
	case EnvAuth, EnvMsg:
		return Envelope{Type: tag, Payload: body}, nil
	case EnvRequest, EnvResponse, EnvAck, EnvReject:
		if len(body) < requestIDSize {
			return Envelope{}, ErrFrameTooShort
		}
		return Envelope{
			Type:      tag,
			RequestID: binary.BigEndian.Uint64(body[:requestIDSize]),
			Payload:   body[requestIDSize:],
		}, nil
	default:
		return Envelope{}, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, data[0])
	}
}

// AuthFrame is the first client frame of the opening exchange: protocol
// version, environment type, authentication material, and the user's connect
// message.
type AuthFrame struct {
	Version    string
	Env        simplenet.EnvType
	Auth       simplenet.AuthRequest
	ConnectMsg []byte
}

var (
	ErrAuthFrameMalformed = errors.New("auth frame malformed")
	ErrVersionOversized   = errors.New("protocol version oversized")
)

const maxVersionLen = 20

// EncodeAuth encodes the opening authentication frame.
func EncodeAuth(f AuthFrame) ([]byte, error) {
	if len(f.Version) > maxVersionLen {
		return nil, ErrVersionOversized
	}

	size := tagSize + 1 + len(f.Version) + 1 + 1 + clientIDSize
	switch f.Auth.Kind {
	case simplenet.AuthKindNone:
	case simplenet.AuthKindSecret:
		size += secretSize
	case simplenet.AuthKindToken:
		size += tokenSize - clientIDSize
	default:
		return nil, fmt.Errorf("%w: unknown auth kind %d", ErrAuthFrameMalformed, f.Auth.Kind)
	}
	size += len(f.ConnectMsg)
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	out := make([]byte, 0, size)
	out = append(out, byte(EnvAuth))
	out = append(out, byte(len(f.Version)))
	out = append(out, f.Version...)
	out = append(out, byte(f.Env))
	out = append(out, byte(f.Auth.Kind))
	switch f.Auth.Kind {
	case simplenet.AuthKindNone:
		out = append(out, f.Auth.ClientID[:]...)
	case simplenet.AuthKindSecret:
		out = append(out, f.Auth.ClientID[:]...)
		out = append(out, f.Auth.Secret[:]...)
	case simplenet.AuthKindToken:
		out = append(out, f.Auth.Token.Bytes()...)
	}
	out = append(out, f.ConnectMsg...)
	return out, nil
}

// DecodeAuth decodes the opening authentication frame.
func DecodeAuth(data []byte) (AuthFrame, error) {
	if len(data) > maxFrameSize {
		return AuthFrame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	if len(data) < tagSize+1 {
		return AuthFrame{}, ErrFrameTooShort
	}
	if EnvelopeType(data[0]) != EnvAuth {
		return AuthFrame{}, fmt.Errorf("%w: tag 0x%02x", ErrAuthFrameMalformed, data[0])
	}

	verLen := int(data[1])
	if verLen > maxVersionLen {
		return AuthFrame{}, ErrVersionOversized
	}
	rest := data[2:]
	if len(rest) < verLen+2 {
		return AuthFrame{}, ErrFrameTooShort
	}

	var f AuthFrame
	f.Version = string(rest[:verLen])
	rest = rest[verLen:]
	f.Env = simplenet.EnvType(rest[0])
	f.Auth.Kind = simplenet.AuthKind(rest[1])
	rest = rest[2:]

	switch f.Auth.Kind {
	case simplenet.AuthKindNone:
		if len(rest) < clientIDSize {
			return AuthFrame{}, ErrFrameTooShort
		}
		copy(f.Auth.ClientID[:], rest[:clientIDSize])
		rest = rest[clientIDSize:]
	case simplenet.AuthKindSecret:
		if len(rest) < clientIDSize+secretSize {
			return AuthFrame{}, ErrFrameTooShort
		}
		copy(f.Auth.ClientID[:], rest[:clientIDSize])
		copy(f.Auth.Secret[:], rest[clientIDSize:clientIDSize+secretSize])
		rest = rest[clientIDSize+secretSize:]
	case simplenet.AuthKindToken:
		if len(rest) < tokenSize {
			return AuthFrame{}, ErrFrameTooShort
		}
		token, err := simplenet.AuthTokenFromBytes(rest[:tokenSize])
		if err != nil {
			return AuthFrame{}, fmt.Errorf("%w: %v", ErrAuthFrameMalformed, err)
		}
		f.Auth.Token = token
		f.Auth.ClientID = token.ClientID
		rest = rest[tokenSize:]
	default:
		return AuthFrame{}, fmt.Errorf("%w: unknown auth kind %d", ErrAuthFrameMalformed, f.Auth.Kind)
	}

	f.ConnectMsg = rest
	return f, nil
}
