package protocol

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/pkg/errors"
)

// Wire format: a one-byte Kind followed by the msgpack body. Msgpack keeps
// payloads compact without generated code, and the handle is safe for
// concurrent use.

var msgpackHandle = &codec.MsgpackHandle{}

// Encode serializes any of the protocol message structs.
func Encode(msg any) ([]byte, error) {
	kind, err := kindOf(msg)
	if err != nil {
		return nil, err
	}
	var body []byte
	enc := codec.NewEncoderBytes(&body, msgpackHandle)
	if err = enc.Encode(msg); err != nil {
		return nil, errors.Wrapf(err, "encode %s", kind)
	}
	out := make([]byte, 1+len(body))
	out[0] = byte(kind)
	copy(out[1:], body)
	return out, nil
}

// Decode parses a wire frame back into its message struct. The returned
// value is a pointer to one of the protocol message types.
func Decode(data []byte) (any, error) {
	if len(data) < 1 {
		return nil, ErrEmptyFrame
	}
	kind := Kind(data[0])
	var msg any
	switch kind {
	case KindJoinRequest:
		msg = &JoinRequest{}
	case KindJoinAccept:
		msg = &JoinAccept{}
	case KindInput:
		msg = &InputMessage{}
	case KindSnapshot:
		msg = &SnapshotMessage{}
	case KindSpawn:
		msg = &SpawnAnnounce{}
	case KindDespawn:
		msg = &DespawnAnnounce{}
	default:
		return nil, errors.Wrapf(ErrUnknownKind, "kind %d", data[0])
	}
	dec := codec.NewDecoderBytes(data[1:], msgpackHandle)
	if err := dec.Decode(msg); err != nil {
		return nil, errors.Wrapf(err, "decode %s", kind)
	}
	return msg, nil
}

func kindOf(msg any) (Kind, error) {
	switch msg.(type) {
	case *JoinRequest, JoinRequest:
		return KindJoinRequest, nil
	case *JoinAccept, JoinAccept:
		return KindJoinAccept, nil
	case *InputMessage, InputMessage:
		return KindInput, nil
	case *SnapshotMessage, SnapshotMessage:
		return KindSnapshot, nil
	case *SpawnAnnounce, SpawnAnnounce:
		return KindSpawn, nil
	case *DespawnAnnounce, DespawnAnnounce:
		return KindDespawn, nil
	default:
		return 0, errors.Errorf("unsupported message type %T", msg)
	}
}
