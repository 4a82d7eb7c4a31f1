// Package protocol implements the framing used to carry SPI bus traffic over
// a serial link: a length byte, a sequence byte, a VLQ encoded payload, a
// CRC16 and a trailing sync byte.
package protocol

// Version is the bridge protocol version reported by the host tool
const Version = "0.1.0"

// Frame layout constants
const (
	MessageMax = 256 // Scratch buffer size, room for several frames

	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E

	// Requests from the host carry MessageDest in the sequence byte
	MessageDest       = 0x10
	MessageSeqMask    = 0x0F
	MessagePayloadMax = MessageLengthMax - MessageLengthMin
)

// Message IDs carried as the first VLQ of every payload
const (
	MsgConfig       = 1 // mode, rate, lsb_first
	MsgEnable       = 2
	MsgDisable      = 3
	MsgXfer         = 4 // byte
	MsgXferResponse = 5 // byte, status
	MsgAck          = 6 // acked message id, result (0 = ok)
	MsgSelect       = 7 // frame length, 0 releases select
)

// NextSequence advances a host sequence number, wrapping within 0x10-0x1F
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
