package publish

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

// Default subjects.
const (
	DefaultVitalsSubject = "physiosim.vitals"
	DefaultAlarmSubject  = "physiosim.alarms"
)

// ConnectNATS dials a NATS server, reconnecting forever on loss.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("physiosim"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes JSON envelopes: vitals on one subject, alarm events on
// another. Alarm events are additionally published on "<alarm subject>.<parameter>".
type NATSPublisher struct {
	conn          Conn
	vitalsSubject string
	alarmSubject  string
}

// NewNATSPublisher returns a publisher over conn. Empty subjects take the defaults.
func NewNATSPublisher(conn Conn, vitalsSubject, alarmSubject string) *NATSPublisher {
	if vitalsSubject == "" {
		vitalsSubject = DefaultVitalsSubject
	}
	if alarmSubject == "" {
		alarmSubject = DefaultAlarmSubject
	}
	return &NATSPublisher{conn: conn, vitalsSubject: vitalsSubject, alarmSubject: alarmSubject}
}

// PublishVitals implements sim.Sink.
func (p *NATSPublisher) PublishVitals(v sim.Vitals) error {
	b, err := encodeVitals(v)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.vitalsSubject, b)
}

// PublishAlarm implements alarm.Listener.
func (p *NATSPublisher) PublishAlarm(ev alarm.Event) error {
	b, err := encodeAlarm(ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.alarmSubject, b); err != nil {
		return err
	}
	return p.conn.Publish(p.alarmSubject+"."+ev.Parameter, b)
}
