//go:build windows

// Package ipc implements the typed message channel between the
// conductor and the hooks library injected into the target process: a
// pipe carries the encoded bytes, and a pair of manual-reset events
// signal "bytes are ready" (send) and "bytes were consumed" (acknowledge)
// so neither side ever has to block on a pipe read that might not have
// data yet.
package ipc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/sys/windows"

	"tasharness/pal/windows/event"
	"tasharness/pal/windows/pipe"
	"tasharness/pal/windows/process"
)

// Message is anything that can be encoded onto the wire. Encode takes
// the value by copy, matching the original's by-value serialize (which
// needs to consume and leak the handles embedded in an IdleRequest).
type Message interface {
	Encode() ([]byte, error)
}

// Decodable is implemented by a pointer-to-message-value type so a
// Receiver can decode into a freshly zeroed T without reflection.
type Decodable interface {
	DecodeFrom(r io.Reader) error
}

// Sender is the write half of a typed channel.
type Sender[T Message] struct {
	pipe      *pipe.Writer
	sendEvent *event.ManualResetEvent
	ackEvent  *event.ManualResetEvent
}

// Send encodes message, writes it to the pipe, signals the send event,
// and blocks until the peer acknowledges having consumed it.
func (s *Sender[T]) Send(ctx context.Context, message T) error {
	data, err := message.Encode()
	if err != nil {
		return fmt.Errorf("ipc send: encode: %w", err)
	}
	if err := writeAll(s.pipe, data); err != nil {
		return fmt.Errorf("ipc send: %w", err)
	}
	if err := s.sendEvent.Set(); err != nil {
		return fmt.Errorf("ipc send: %w", err)
	}
	if err := s.ackEvent.Wait(ctx); err != nil {
		return fmt.Errorf("ipc send: %w", err)
	}
	if err := s.ackEvent.Reset(); err != nil {
		return fmt.Errorf("ipc send: %w", err)
	}
	return nil
}

// SerializeToBytes encodes the three handles backing this sender (pipe
// write end, send event, acknowledge event) as three little-endian
// uint32s, for embedding in a bootstrap/handoff message.
func (s *Sender[T]) SerializeToBytes() [12]byte {
	return encodeHandleTriple(s.pipe.Handle().Raw(), s.sendEvent.Handle().Raw(), s.ackEvent.Handle().Raw())
}

// DeserializeSenderFromBytes reconstructs a Sender from handle values
// already valid in the current process (e.g. received over a bootstrap
// message written by the conductor into the target's memory).
func DeserializeSenderFromBytes[T Message](bytes [12]byte) *Sender[T] {
	p, send, ack := decodeHandleTriple(bytes)
	return &Sender[T]{
		pipe:      pipe.FromRawWriter(p),
		sendEvent: event.FromRaw(send),
		ackEvent:  event.FromRaw(ack),
	}
}

// Receiver is the read half of a typed channel. PT is the pointer type
// of T, used to decode into a zeroed value without reflection — the
// standard "pointer type parameter" trick for attaching methods that
// need a pointer receiver to a generic API shaped around the value type.
type Receiver[T any, PT interface {
	*T
	Decodable
}] struct {
	pipe      *pipe.Reader
	sendEvent *event.ManualResetEvent
	ackEvent  *event.ManualResetEvent
}

// Peek returns a decoded message without blocking if one is already
// pending, or (zero, false, nil) if none is.
func (r *Receiver[T, PT]) Peek() (T, bool, error) {
	var zero T
	signaled, err := r.sendEvent.Get()
	if err != nil {
		return zero, false, fmt.Errorf("ipc peek: %w", err)
	}
	if !signaled {
		return zero, false, nil
	}
	message, err := r.decode()
	if err != nil {
		return zero, false, err
	}
	return message, true, nil
}

// Receive blocks until a message is sent, decodes it, and acknowledges it.
func (r *Receiver[T, PT]) Receive(ctx context.Context) (T, error) {
	var zero T
	if err := r.sendEvent.Wait(ctx); err != nil {
		return zero, fmt.Errorf("ipc receive: %w", err)
	}
	return r.decode()
}

func (r *Receiver[T, PT]) decode() (T, error) {
	var zero T
	if err := r.sendEvent.Reset(); err != nil {
		return zero, fmt.Errorf("ipc receive: %w", err)
	}
	var message T
	if err := PT(&message).DecodeFrom(r.pipe); err != nil {
		return zero, fmt.Errorf("ipc receive: decode: %w", err)
	}
	if err := r.ackEvent.Set(); err != nil {
		return zero, fmt.Errorf("ipc receive: %w", err)
	}
	return message, nil
}

// SerializeToBytes encodes the three handles backing this receiver.
func (r *Receiver[T, PT]) SerializeToBytes() [12]byte {
	return encodeHandleTriple(r.pipe.Handle().Raw(), r.sendEvent.Handle().Raw(), r.ackEvent.Handle().Raw())
}

// DeserializeReceiverFromBytes reconstructs a Receiver from handle values.
func DeserializeReceiverFromBytes[T any, PT interface {
	*T
	Decodable
}](bytes [12]byte) *Receiver[T, PT] {
	p, send, ack := decodeHandleTriple(bytes)
	return &Receiver[T, PT]{
		pipe:      pipe.FromRawReader(p),
		sendEvent: event.FromRaw(send),
		ackEvent:  event.FromRaw(ack),
	}
}

// NewPair creates a fresh pipe+event-pair channel and duplicates its
// handles into senderProcess and receiverProcess respectively, so each
// side only ever sees handles valid in its own address space.
func NewPair[T Message, PT interface {
	*T
	Decodable
}](senderProcess, receiverProcess *process.Process) (*Sender[T], *Receiver[T, PT], error) {
	writer, reader, err := pipe.New()
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: %w", err)
	}
	sendEvent, err := event.New()
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: %w", err)
	}
	ackEvent, err := event.New()
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: %w", err)
	}

	senderPipe, err := writer.Handle().CloneForProcess(senderProcess.RawHandle())
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: clone pipe writer: %w", err)
	}
	senderSendEvent, err := sendEvent.CloneForProcess(senderProcess.RawHandle())
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: clone send event: %w", err)
	}
	senderAckEvent, err := ackEvent.CloneForProcess(senderProcess.RawHandle())
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: clone ack event: %w", err)
	}

	receiverPipe, err := reader.Handle().CloneForProcess(receiverProcess.RawHandle())
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: clone pipe reader: %w", err)
	}
	receiverSendEvent, err := sendEvent.CloneForProcess(receiverProcess.RawHandle())
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: clone send event: %w", err)
	}
	receiverAckEvent, err := ackEvent.CloneForProcess(receiverProcess.RawHandle())
	if err != nil {
		return nil, nil, fmt.Errorf("ipc new pair: clone ack event: %w", err)
	}

	return &Sender[T]{
			pipe:      pipe.FromRawWriter(senderPipe.Raw()),
			sendEvent: event.FromRaw(senderSendEvent.Raw()),
			ackEvent:  event.FromRaw(senderAckEvent.Raw()),
		}, &Receiver[T, PT]{
			pipe:      pipe.FromRawReader(receiverPipe.Raw()),
			sendEvent: event.FromRaw(receiverSendEvent.Raw()),
			ackEvent:  event.FromRaw(receiverAckEvent.Raw()),
		}, nil
}

func encodeHandleTriple(a, b, c windows.Handle) [12]byte {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(a))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(c))
	return buf
}

func decodeHandleTriple(bytes [12]byte) (a, b, c windows.Handle) {
	a = windows.Handle(binary.LittleEndian.Uint32(bytes[0:4]))
	b = windows.Handle(binary.LittleEndian.Uint32(bytes[4:8]))
	c = windows.Handle(binary.LittleEndian.Uint32(bytes[8:12]))
	return
}

func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
