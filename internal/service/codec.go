package service

import "encoding/json"

// jsonCodec carries the hand-written request and response structs over gRPC
// as JSON. Both ends force it, so no protobuf registration is involved.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return "json" }
