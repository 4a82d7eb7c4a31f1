package protocol

import "errors"

var (
	ErrUnexpectedMessage = errors.New("unexpected message id")
	ErrTrailingData      = errors.New("trailing data after message")
)

// EncodeMessage builds a payload from a message id and its VLQ arguments
func EncodeMessage(id uint32, args ...uint32) []byte {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, id)
	for _, arg := range args {
		EncodeVLQUint(scratch, arg)
	}
	payload := make([]byte, scratch.CurPosition())
	copy(payload, scratch.Result())
	return payload
}

// DecodeMessage splits a payload into its message id and arguments. The
// argument count comes from the id.
func DecodeMessage(payload []byte) (uint32, []uint32, error) {
	id, data, err := DecodeVLQUint(payload)
	if err != nil {
		return 0, nil, err
	}
	n, err := ArgCount(id)
	if err != nil {
		return id, nil, err
	}

	args := make([]uint32, n)
	for i := range args {
		if args[i], data, err = DecodeVLQUint(data); err != nil {
			return id, nil, err
		}
	}
	if len(data) != 0 {
		return id, nil, ErrTrailingData
	}
	return id, args, nil
}

// ArgCount returns the number of arguments carried by message id
func ArgCount(id uint32) (int, error) {
	switch id {
	case MsgEnable, MsgDisable:
		return 0, nil
	case MsgXfer, MsgSelect:
		return 1, nil
	case MsgXferResponse, MsgAck:
		return 2, nil
	case MsgConfig:
		return 3, nil
	}
	return 0, ErrUnexpectedMessage
}
