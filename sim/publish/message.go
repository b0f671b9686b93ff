// Package publish fans vitals frames and alarm events out to remote consumers:
// NATS subjects, WebSocket clients and a Prometheus scrape endpoint. Every
// publisher implements sim.Sink and alarm.Listener.
package publish

import (
	"encoding/json"
	"fmt"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

// Message kinds on the wire.
const (
	KindVitals = "vitals"
	KindAlarm  = "alarm"
)

// Envelope tags a payload with its kind so one stream can carry both.
type Envelope struct {
	Kind   string       `json:"kind"`
	Vitals *sim.Vitals  `json:"vitals,omitempty"`
	Alarm  *alarm.Event `json:"alarm,omitempty"`
}

func encodeVitals(v sim.Vitals) ([]byte, error) {
	b, err := json.Marshal(Envelope{Kind: KindVitals, Vitals: &v})
	if err != nil {
		return nil, fmt.Errorf("encoding vitals: %w", err)
	}
	return b, nil
}

func encodeAlarm(ev alarm.Event) ([]byte, error) {
	b, err := json.Marshal(Envelope{Kind: KindAlarm, Alarm: &ev})
	if err != nil {
		return nil, fmt.Errorf("encoding alarm event: %w", err)
	}
	return b, nil
}
