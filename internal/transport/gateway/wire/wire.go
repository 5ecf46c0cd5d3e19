// Package wire is the framed message codec spoken between the
// orchestrator and a session gateway. Each message is a fixed binary
// header followed by a JSON payload; the header carries enough to route
// and bound the read, the payload stays schema-flexible.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0x534E4452 // "SNDR"
	Version        uint16 = 1
	FixedHeaderLen        = 24
)

// Message types. Client-originated types stay below 10, gateway-originated
// types at 10 and above.
const (
	MsgHello          uint16 = 1
	MsgPairingRequest uint16 = 2
	MsgSend           uint16 = 3
	MsgLogout         uint16 = 4

	MsgConnecting  uint16 = 10
	MsgOpen        uint16 = 11
	MsgClose       uint16 = 12
	MsgQR          uint16 = 13
	MsgCredentials uint16 = 14
	MsgPairingCode uint16 = 15
)

var (
	ErrShortHeader     = errors.New("wire: short fixed header")
	ErrBadMagic        = errors.New("wire: bad magic")
	ErrBadVersion      = errors.New("wire: unsupported version")
	ErrPayloadTooLarge = errors.New("wire: payload too large")
)

// Message is one complete frame on the gateway stream.
type Message struct {
	Type    uint16
	ID      uint64
	Payload []byte
}

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 4 * 1024 * 1024}
}

// Hello opens a gateway stream for one number. Credentials carries the
// stored bundle when the device has paired before; empty means the
// gateway must run a fresh pairing.
type Hello struct {
	Number      string `json:"number"`
	Credentials []byte `json:"credentials,omitempty"`
}

// ClosePayload reports why the gateway closed the session.
type ClosePayload struct {
	Cause string `json:"cause"`
}

// QRPayload carries pairing QR data for human display.
type QRPayload struct {
	Data string `json:"data"`
}

// CredentialsPayload carries a refreshed credential bundle to persist.
type CredentialsPayload struct {
	Bundle []byte `json:"bundle"`
}

// PairingRequestPayload asks the gateway for a pairing code.
type PairingRequestPayload struct {
	Number string `json:"number"`
}

// PairingCodePayload answers a pairing request. Error is set when the
// gateway could not obtain a code.
type PairingCodePayload struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// SendPayload delivers one opaque message to a target address.
type SendPayload struct {
	Target  string `json:"target"`
	Payload []byte `json:"payload"`
}

// Encode builds a message with a JSON-encoded payload.
func Encode(msgType uint16, id uint64, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("wire: encode payload: %w", err)
	}
	return Message{Type: msgType, ID: id, Payload: body}, nil
}

// DecodePayload unmarshals a message payload into out.
func DecodePayload(m Message, out any) error {
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("wire: decode payload for type %d: %w", m.Type, err)
	}
	return nil
}

// ReadMessage reads one frame from the stream.
func ReadMessage(r io.Reader, limits Limits) (Message, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortHeader
		}
		return Message{}, err
	}

	if binary.BigEndian.Uint32(fixed[0:4]) != Magic {
		return Message{}, ErrBadMagic
	}
	if binary.BigEndian.Uint16(fixed[4:6]) != Version {
		return Message{}, ErrBadVersion
	}
	m := Message{
		Type: binary.BigEndian.Uint16(fixed[6:8]),
		ID:   binary.BigEndian.Uint64(fixed[8:16]),
	}
	payloadLen := binary.BigEndian.Uint64(fixed[16:24])
	if payloadLen > limits.MaxPayloadBytes {
		return Message{}, ErrPayloadTooLarge
	}
	if payloadLen > 0 {
		m.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}

// WriteMessage writes one frame to the stream.
func WriteMessage(w io.Writer, m Message, limits Limits) error {
	if uint64(len(m.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	var fixed [FixedHeaderLen]byte
	binary.BigEndian.PutUint32(fixed[0:4], Magic)
	binary.BigEndian.PutUint16(fixed[4:6], Version)
	binary.BigEndian.PutUint16(fixed[6:8], m.Type)
	binary.BigEndian.PutUint64(fixed[8:16], m.ID)
	binary.BigEndian.PutUint64(fixed[16:24], uint64(len(m.Payload)))
	if _, err := w.Write(fixed[:]); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}
	return nil
}
