package admin

import (
	"encoding/json"
)

// jsonCodec lets the admin procedures carry plain Go structs as JSON, it
// replaces the protobuf JSON codec connect registers by default.
type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(message any) ([]byte, error) {
	return json.Marshal(message)
}

func (jsonCodec) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, message)
}
