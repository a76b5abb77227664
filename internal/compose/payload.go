package compose

import (
	"encoding/json"

	"clipforge/internal/faults"
)

// Tag identifies a layer type. The set of tags is closed at build time.
type Tag byte

const (
	TagBackground Tag = 1
	TagCard       Tag = 2
	TagVoice      Tag = 3
	TagSubtitle   Tag = 4
	TagWatermark  Tag = 5
)

func (t Tag) String() string {
	switch t {
	case TagBackground:
		return "background"
	case TagCard:
		return "card"
	case TagVoice:
		return "voice"
	case TagSubtitle:
		return "subtitle"
	case TagWatermark:
		return "watermark"
	}
	return "unknown"
}

// payloadVersion is the current wire version of layer payloads. A layer
// payload is version byte, tag byte, then a handler-owned JSON body.
const payloadVersion = 1

// EncodePayload builds a versioned layer payload for a handler body.
func EncodePayload(tag Tag, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(data)+2)
	out = append(out, payloadVersion, byte(tag))
	return append(out, data...), nil
}

// DecodeHeader splits a payload into its tag and handler-owned body.
// Malformed payloads are configuration faults.
func DecodeHeader(payload []byte) (Tag, []byte, error) {
	if len(payload) < 2 {
		return 0, nil, faults.Configf("layer payload too short (%d bytes)", len(payload))
	}
	if payload[0] != payloadVersion {
		return 0, nil, faults.Configf("unsupported layer payload version %d", payload[0])
	}
	return Tag(payload[1]), payload[2:], nil
}
