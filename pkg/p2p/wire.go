package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/smashdex/pkg/events"
)

// envelope is the gossip wire form of an exchange event.
type envelope struct {
	Origin string       `json:"origin"`
	Event  events.Event `json:"event"`
}

func encodeEnvelope(origin string, e events.Event) ([]byte, error) {
	return json.Marshal(envelope{Origin: origin, Event: e})
}

func decodeEnvelope(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, fmt.Errorf("decode gossip envelope: %w", err)
	}
	return env, nil
}
