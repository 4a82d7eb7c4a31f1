package protocol

import "errors"

var ErrTruncatedVLQ = errors.New("truncated VLQ")

// Continuation groups, most significant first. The group at shift s is
// needed when v falls outside [-(1<<(s-2)), 3<<(s-2)).
var vlqShifts = [...]uint{28, 21, 14, 7}

// EncodeVLQInt writes v most significant group first, seven bits per byte.
// Values in [-32, 96) take a single byte.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [5]byte
	n := 0
	for _, shift := range vlqShifts {
		limit := int32(1) << (shift - 2)
		if v < -limit || v >= 3*limit {
			buf[n] = byte(v>>shift)&0x7F | 0x80
			n++
		}
	}
	buf[n] = byte(v) & 0x7F
	output.Output(buf[:n+1])
}

// EncodeVLQUint writes v with the signed encoding of its bit pattern
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt decodes one value from the front of data and returns the rest
func DecodeVLQInt(data []byte) (int32, []byte, error) {
	if len(data) == 0 {
		return 0, data, ErrTruncatedVLQ
	}

	c := data[0]
	v := uint32(c & 0x7F)
	if c&0x60 == 0x60 {
		// Leading group carries the sign
		v |= ^uint32(0x1F)
	}
	i := 1
	for ; c&0x80 != 0; i++ {
		if i >= len(data) {
			return 0, data, ErrTruncatedVLQ
		}
		c = data[i]
		v = v<<7 | uint32(c&0x7F)
	}
	return int32(v), data[i:], nil
}

// DecodeVLQUint is DecodeVLQInt for unsigned values
func DecodeVLQUint(data []byte) (uint32, []byte, error) {
	v, rest, err := DecodeVLQInt(data)
	return uint32(v), rest, err
}
