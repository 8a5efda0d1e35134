// Package expertrpc is the gRPC transport for the Expert Coordinator's
// outbound delegation calls and the Pair-Session Manager's bidirectional
// suggestion stream (§4.5, §4.7). It is grounded on
// internal/gossip/server.go's TLS 1.3 mTLS server pattern, but carries
// its own hand-written service description and a JSON wire codec
// instead of a protoc-generated package: there is no generated
// gossipv1-equivalent package available to this module, and fabricating
// one would mean hand-authoring protobuf wire code by hand, which is not
// something to do without a code generator. Registering a codec with
// grpc's encoding extension point is the supported way to run a gRPC
// service without .pb.go stubs; the wire format is still length-prefixed
// gRPC framing, only the payload encoding differs.
package expertrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with grpc's encoding package and selected via
// grpc.CallContentSubtype / the server's default codec.
const codecName = "json"

// jsonCodec implements encoding.Codec by marshaling messages as JSON
// instead of protobuf wire format.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("expertrpc: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("expertrpc: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
