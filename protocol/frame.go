package protocol

import (
	"bytes"
	"errors"
)

var ErrFrameTooLong = errors.New("frame exceeds maximum length")

// Frame is one decoded message
type Frame struct {
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
	CRC      uint16
}

// WriteFrame appends a complete frame carrying payload to output
func WriteFrame(output OutputBuffer, seq uint8, payload []byte) error {
	msgLen := MessageHeaderSize + len(payload) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return ErrFrameTooLong
	}

	start := output.CurPosition()
	output.Output([]byte{uint8(msgLen), seq})
	output.Output(payload)

	// CRC covers header + payload
	crc := CRC16(output.DataSince(start))
	output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
	return nil
}

// EncodeFrame returns payload framed with seq
func EncodeFrame(seq uint8, payload []byte) ([]byte, error) {
	scratch := NewScratchOutput()
	if err := WriteFrame(scratch, seq, payload); err != nil {
		return nil, err
	}
	frame := make([]byte, scratch.CurPosition())
	copy(frame, scratch.Result())
	return frame, nil
}

// FrameScanner reassembles frames from a byte stream. Garbage and corrupt
// frames are skipped by resynchronizing on the next sync byte.
type FrameScanner struct {
	input        *FifoBuffer
	synchronized bool

	// Dropped counts frames rejected for bad length, trailer or CRC
	Dropped uint32
}

// NewFrameScanner creates a scanner buffering up to capacity bytes
func NewFrameScanner(capacity int) *FrameScanner {
	if capacity < MessageLengthMax {
		capacity = MessageLengthMax
	}
	return &FrameScanner{
		input:        NewFifoBuffer(capacity),
		synchronized: true,
	}
}

// Write buffers received bytes and returns how many were accepted
func (s *FrameScanner) Write(data []byte) int {
	return s.input.Write(data)
}

// Free returns the room left in the input buffer
func (s *FrameScanner) Free() int {
	return s.input.Free()
}

// Next returns the next complete frame, or false when more data is needed
func (s *FrameScanner) Next() (Frame, bool) {
	data := s.input.Data()
	avail := len(data)

	var frame Frame
	found := false
	for len(data) > 0 && !found {
		if !s.synchronized {
			// Skip garbage up to and including the next sync byte
			syncPos := bytes.IndexByte(data, MessageValueSync)
			if syncPos < 0 {
				data = nil
				break
			}
			data = data[syncPos+1:]
			s.synchronized = true
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			s.desync()
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			s.desync()
			continue
		}

		frameCRC := uint16(data[msgLen-MessageTrailerCRC])<<8 |
			uint16(data[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(data[:msgLen-MessageTrailerSize]) {
			s.desync()
			continue
		}

		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		frame = Frame{
			Sequence: data[MessagePositionSeq],
			Payload:  payload,
			CRC:      frameCRC,
		}
		data = data[msgLen:]
		found = true
	}

	s.input.Pop(avail - len(data))
	return frame, found
}

func (s *FrameScanner) desync() {
	s.synchronized = false
	s.Dropped++
}

// Reset discards buffered input
func (s *FrameScanner) Reset() {
	s.input.Reset()
	s.synchronized = true
}
