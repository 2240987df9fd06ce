//go:build windows

package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func readUint8(r io.Reader) (uint8, error) {
	buf, err := readExact(r, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readBool(r io.Reader) (bool, error) {
	v, err := readUint8(r)
	return v != 0, err
}

func readUint16(r io.Reader) (uint16, error) {
	buf, err := readExact(r, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

func readUint32(r io.Reader) (uint32, error) {
	buf, err := readExact(r, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func readInt64(r io.Reader) (int64, error) {
	buf, err := readExact(r, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

func readString(r io.Reader) (string, error) {
	length, err := readUint32(r)
	if err != nil {
		return "", err
	}
	buf, err := readExact(r, int(length))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendUint16(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendInt64(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// MouseButton identifies a mouse button affected by a SetMouseButtonState command.
type MouseButton uint8

const (
	MouseButtonLeft MouseButton = iota
	MouseButtonRight
	MouseButtonMiddle
	MouseButtonX1
	MouseButtonX2
)

// Bootstrap is the first and only message written directly into the
// target's memory by the conductor (not sent over a pipe, since no pipe
// exists yet): it hands the injected library the main thread id and the
// three channels it needs (the Initialized/Log senders and the
// FromConductor command receiver). The hooks library reads it once, on
// its DLL entry point, and frees the page it was written into
// immediately after decoding.
type Bootstrap struct {
	MainThreadID              uint32
	InitializedMessageSender  *Sender[Initialized]
	LogMessageSender          *Sender[Log]
	MessageReceiver           *Receiver[FromConductor, *FromConductor]
}

// Encode serializes the bootstrap message: a 4-byte thread id followed
// by three 12-byte handle triples, 40 bytes total, matching the layout
// the injected library's entry point expects to find.
func (b Bootstrap) Encode() []byte {
	buf := make([]byte, 0, 40)
	buf = appendUint32(buf, b.MainThreadID)
	initialized := b.InitializedMessageSender.SerializeToBytes()
	log := b.LogMessageSender.SerializeToBytes()
	receiver := b.MessageReceiver.SerializeToBytes()
	buf = append(buf, initialized[:]...)
	buf = append(buf, log[:]...)
	buf = append(buf, receiver[:]...)
	return buf
}

// DecodeBootstrapFrom parses a Bootstrap message out of exactly 40 bytes
// of target memory already read into the current process.
func DecodeBootstrapFrom(r io.Reader) (Bootstrap, error) {
	mainThreadID, err := readUint32(r)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("decode bootstrap: %w", err)
	}
	initializedBytes, err := readExact(r, 12)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("decode bootstrap: %w", err)
	}
	logBytes, err := readExact(r, 12)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("decode bootstrap: %w", err)
	}
	receiverBytes, err := readExact(r, 12)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("decode bootstrap: %w", err)
	}

	return Bootstrap{
		MainThreadID:             mainThreadID,
		InitializedMessageSender: DeserializeSenderFromBytes[Initialized]([12]byte(initializedBytes)),
		LogMessageSender:         DeserializeSenderFromBytes[Log]([12]byte(logBytes)),
		MessageReceiver:          DeserializeReceiverFromBytes[FromConductor, *FromConductor]([12]byte(receiverBytes)),
	}, nil
}

// FromConductor tag values, exported so callers can switch on
// command.Tag without constructing a dummy variant first.
const (
	TagResume               uint8 = 0
	TagAdvanceTime          uint8 = 1
	TagSetKeyState          uint8 = 2
	TagSetMousePosition     uint8 = 3
	TagSetMouseButtonState  uint8 = 4
	TagIdleRequest          uint8 = 5
	TagSaveState            uint8 = 6
	TagLoadState            uint8 = 7
)

const (
	fromConductorTagResume              = TagResume
	fromConductorTagAdvanceTime         = TagAdvanceTime
	fromConductorTagSetKeyState         = TagSetKeyState
	fromConductorTagSetMousePosition    = TagSetMousePosition
	fromConductorTagSetMouseButtonState = TagSetMouseButtonState
	fromConductorTagIdleRequest         = TagIdleRequest
	fromConductorTagSaveState           = TagSaveState
	fromConductorTagLoadState           = TagLoadState
)

// FromConductor is every command the conductor can send the hooks
// library. Exactly one of the typed fields is meaningful, selected by Tag
// — Go has no sum-type/enum-with-payload construct, so this is the
// idiomatic stand-in (a discriminant plus the union of possible payload
// fields), matching the fields the original Rust enum's variants carry.
type FromConductor struct {
	Tag uint8

	AdvanceTimeNanoseconds int64

	KeyID    uint8
	KeyState bool

	MouseX, MouseY uint16

	MouseButton      MouseButton
	MouseButtonState bool

	IdleResponseSender *Sender[Idle]
}

// Encode implements Message.
func (m FromConductor) Encode() ([]byte, error) {
	buf := []byte{m.Tag}
	switch m.Tag {
	case fromConductorTagResume:
	case fromConductorTagAdvanceTime:
		buf = appendInt64(buf, m.AdvanceTimeNanoseconds)
	case fromConductorTagSetKeyState:
		buf = append(buf, m.KeyID)
		buf = appendBool(buf, m.KeyState)
	case fromConductorTagSetMousePosition:
		buf = appendUint16(buf, m.MouseX)
		buf = appendUint16(buf, m.MouseY)
	case fromConductorTagSetMouseButtonState:
		buf = append(buf, byte(m.MouseButton))
		buf = appendBool(buf, m.MouseButtonState)
	case fromConductorTagIdleRequest:
		handles := m.IdleResponseSender.SerializeToBytes()
		buf = append(buf, handles[:]...)
	case fromConductorTagSaveState, fromConductorTagLoadState:
	default:
		return nil, fmt.Errorf("ipc: unknown FromConductor tag %d", m.Tag)
	}
	return buf, nil
}

// DecodeFrom implements Decodable.
func (m *FromConductor) DecodeFrom(r io.Reader) error {
	tag, err := readUint8(r)
	if err != nil {
		return err
	}
	m.Tag = tag
	switch tag {
	case fromConductorTagResume:
	case fromConductorTagAdvanceTime:
		m.AdvanceTimeNanoseconds, err = readInt64(r)
	case fromConductorTagSetKeyState:
		m.KeyID, err = readUint8(r)
		if err != nil {
			return err
		}
		m.KeyState, err = readBool(r)
	case fromConductorTagSetMousePosition:
		m.MouseX, err = readUint16(r)
		if err != nil {
			return err
		}
		m.MouseY, err = readUint16(r)
	case fromConductorTagSetMouseButtonState:
		var button uint8
		button, err = readUint8(r)
		if err != nil {
			return err
		}
		m.MouseButton = MouseButton(button)
		m.MouseButtonState, err = readBool(r)
	case fromConductorTagIdleRequest:
		var handles []byte
		handles, err = readExact(r, 12)
		if err != nil {
			return err
		}
		m.IdleResponseSender = DeserializeSenderFromBytes[Idle]([12]byte(handles))
	case fromConductorTagSaveState, fromConductorTagLoadState:
	default:
		return fmt.Errorf("ipc: unknown FromConductor tag %d", tag)
	}
	return err
}

// AdvanceTime builds the AdvanceTime variant from a time.Duration.
func AdvanceTime(d time.Duration) FromConductor {
	return FromConductor{Tag: fromConductorTagAdvanceTime, AdvanceTimeNanoseconds: d.Nanoseconds()}
}

// Duration returns the AdvanceTime variant's payload as a time.Duration.
func (m FromConductor) Duration() time.Duration {
	return time.Duration(m.AdvanceTimeNanoseconds)
}

// Resume is the zero-payload "resume every thread" command.
var Resume = FromConductor{Tag: fromConductorTagResume}

// SaveState/LoadState are the zero-payload snapshot commands: the
// library performs the snapshot on its own process and doesn't reply.
var (
	SaveState = FromConductor{Tag: fromConductorTagSaveState}
	LoadState = FromConductor{Tag: fromConductorTagLoadState}
)

// SetKeyState builds the SetKeyState variant.
func SetKeyState(id uint8, pressed bool) FromConductor {
	return FromConductor{Tag: fromConductorTagSetKeyState, KeyID: id, KeyState: pressed}
}

// SetMousePosition builds the SetMousePosition variant.
func SetMousePosition(x, y uint16) FromConductor {
	return FromConductor{Tag: fromConductorTagSetMousePosition, MouseX: x, MouseY: y}
}

// SetMouseButtonState builds the SetMouseButtonState variant.
func SetMouseButtonState(button MouseButton, pressed bool) FromConductor {
	return FromConductor{Tag: fromConductorTagSetMouseButtonState, MouseButton: button, MouseButtonState: pressed}
}

// IdleRequest builds the IdleRequest variant, carrying the sender the
// library should respond to with exactly one Idle message.
func IdleRequest(responseSender *Sender[Idle]) FromConductor {
	return FromConductor{Tag: fromConductorTagIdleRequest, IdleResponseSender: responseSender}
}

// Initialized is the empty acknowledgement the hooks library sends
// exactly once, right after installing hooks and before entering its
// command loop.
type Initialized struct{}

// Encode implements Message.
func (Initialized) Encode() ([]byte, error) { return nil, nil }

// DecodeFrom implements Decodable.
func (*Initialized) DecodeFrom(io.Reader) error { return nil }

// LogLevel mirrors the five severities the hooks library can log at.
type LogLevel uint8

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarning
	LogLevelError
)

// Log is a single forwarded log line from the hooks library.
type Log struct {
	Level   LogLevel
	Message string
}

// Encode implements Message.
func (m Log) Encode() ([]byte, error) {
	buf := []byte{byte(m.Level)}
	buf = appendString(buf, m.Message)
	return buf, nil
}

// DecodeFrom implements Decodable.
func (m *Log) DecodeFrom(r io.Reader) error {
	level, err := readUint8(r)
	if err != nil {
		return err
	}
	m.Level = LogLevel(level)
	m.Message, err = readString(r)
	return err
}

// Idle is the empty response to an IdleRequest, signaling the conductor
// that every command sent before the request has been applied and every
// granted tick has been consumed.
type Idle struct{}

// Encode implements Message.
func (Idle) Encode() ([]byte, error) { return nil, nil }

// DecodeFrom implements Decodable.
func (*Idle) DecodeFrom(io.Reader) error { return nil }
