// Package rpc is the L7 engine's read-only query service: GetMarket,
// GetOrder and StreamFills over gRPC. The teacher generates its
// service surface from a .proto file (api/pb); no protoc toolchain is
// available here, so the service descriptor and wire codec are
// hand-written instead of generated (see DESIGN.md).
package rpc

import (
	"encoding/gob"
	"bytes"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as a gRPC content-subtype, selected via
// grpc.CallContentSubtype/grpc.ForceServerCodec instead of the default
// generated-proto codec.
const codecName = "gob"

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
