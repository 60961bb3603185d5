package main

import (
	"reflect"

	"github.com/bytedance/sonic"
)

// fastJSON is the shared Sonic codec instance. Sonic compiles per-type
// encoders/decoders at runtime, so hot paths (the V1 line codec, V2
// message bridging) funnel through this single configuration rather than
// each importing encoding/json directly.
var fastJSON = sonic.ConfigDefault

func fastJSONMarshal(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}

func fastJSONUnmarshal(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}

func init() {
	// Pretouch avoids first-hit codegen latency spikes on the line-protocol
	// hot path. Best-effort: Sonic falls back to normal behavior on failure.
	_ = sonic.Pretouch(reflect.TypeFor[v1Request]())
	_ = sonic.Pretouch(reflect.TypeFor[v1Response]())
}
