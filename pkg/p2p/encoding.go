package p2p

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
)

const DefaultMaxMessageSize = 2 * 1024 * 1024 // 2MB cap per frame

/*
Wire format of every message:

	[IncomingMessage (1 byte)] [LENGTH (4 bytes, little endian)] [gob-encoded Message (LENGTH bytes)]

The decoder reads exactly LENGTH bytes with io.ReadFull, so it never swallows
a byte that belongs to the next frame. A bad marker or length breaks the
framing for good (Fatal); a bad gob body only loses that one message.
*/

// Encode frames p and writes it to w in a single Write call.
func Encode(w io.Writer, p Payload) error {
	body := new(bytes.Buffer)
	if err := gob.NewEncoder(body).Encode(&Message{Payload: p}); err != nil {
		return fmt.Errorf("encode %s: %w", p.Kind(), err)
	}

	frame := make([]byte, 5, 5+body.Len())
	frame[0] = IncomingMessage
	binary.LittleEndian.PutUint32(frame[1:], uint32(body.Len()))
	frame = append(frame, body.Bytes()...)

	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// Decode reads one frame from r. io.EOF is returned untouched when the stream
// ends cleanly between frames.
func Decode(r io.Reader, maxSize uint32) (Payload, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}

	var marker [1]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, err
	}
	if marker[0] != IncomingMessage {
		return nil, &MalformedError{Reason: fmt.Sprintf("invalid frame marker 0x%x", marker[0]), Fatal: true}
	}

	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, unexpectedEOF(err)
	}
	if length == 0 || length > maxSize {
		return nil, &MalformedError{
			Reason: fmt.Sprintf("invalid message length %d (must be between 1 and %d bytes)", length, maxSize),
			Fatal:  true,
		}
	}

	body := make([]byte, int(length))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, unexpectedEOF(err)
	}

	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return nil, &MalformedError{Reason: "undecodable body", Err: err}
	}
	if msg.Payload == nil {
		return nil, &MalformedError{Reason: "empty payload"}
	}
	return msg.Payload, nil
}

// a stream that ends mid-frame is a broken frame, not a clean hangup
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
