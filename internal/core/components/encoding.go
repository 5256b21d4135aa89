package components

import (
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/pkg/errors"
)

// Component values cross the wire as msgpack. Encoding works for any value;
// decoding needs the concrete type back, so registrations that receive
// snapshots must install a decoder, typically DecoderFor[T].

var msgpackHandle = &codec.MsgpackHandle{}

// EncodeValue serializes a component value. Default Encode for every
// registration.
func EncodeValue(v any) ([]byte, error) {
	var out []byte
	enc := codec.NewEncoderBytes(&out, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "encode component value")
	}
	return out, nil
}

// DecoderFor builds a DecodeFunc that reconstructs a value of type T.
func DecoderFor[T any]() DecodeFunc {
	return func(data []byte) (any, error) {
		var v T
		dec := codec.NewDecoderBytes(data, msgpackHandle)
		if err := dec.Decode(&v); err != nil {
			return nil, errors.Wrap(err, "decode component value")
		}
		return v, nil
	}
}
