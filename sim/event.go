package sim

import (
	"bytes"
	"container/heap"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TimeUnit scales a ScheduledEvent's interval to seconds.
type TimeUnit string

const (
	Seconds TimeUnit = "s"
	Minutes TimeUnit = "min"
	Hours   TimeUnit = "h"
)

var timeUnitSeconds = map[TimeUnit]float64{
	Seconds: 1,
	Minutes: 60,
	Hours:   3600,
	"":      1, // empty defaults to seconds
}

// ChangeType selects whether a change value is a percentage or an absolute amount.
type ChangeType string

// ChangeAction selects whether a change replaces the value or reduces it.
type ChangeAction string

const (
	Relative ChangeType = "relative"
	Absolute ChangeType = "absolute"

	Set   ChangeAction = "set"
	Decay ChangeAction = "decay"
)

// ParameterChange is one mutation carried by a scheduled event.
//
//	relative set:   baseline · value/100
//	absolute set:   value
//	relative decay: current · (1 - value/100)
//	absolute decay: current - value
type ParameterChange struct {
	Name   string       `yaml:"name"`
	Type   ChangeType   `yaml:"type"`
	Action ChangeAction `yaml:"action"`
	Value  float64      `yaml:"value"`
}

// ScheduledEvent mutates parameters once per elapsed interval. An event with Count
// of one or less fires once; otherwise it fires Count times.
type ScheduledEvent struct {
	Type         string            `yaml:"event_type"`
	TimeUnit     TimeUnit          `yaml:"time_unit"`
	TimeInterval float64           `yaml:"time_interval"`
	Count        int               `yaml:"event_count"`
	LastEmission float64           `yaml:"last_emission"`
	Parameters   []ParameterChange `yaml:"parameters"`
}

// Interval returns the event period in seconds.
func (e *ScheduledEvent) Interval() float64 {
	return e.TimeInterval * timeUnitSeconds[e.TimeUnit]
}

// DueAt is the simulated time at which the event next fires.
func (e *ScheduledEvent) DueAt() float64 {
	return e.LastEmission + e.Interval()
}

// Validate checks the event's shape. Parameter names are checked against the store
// when the event fires.
func (e *ScheduledEvent) Validate() error {
	if _, ok := timeUnitSeconds[e.TimeUnit]; !ok {
		return &EventApplicationError{EventType: e.Type, Reason: fmt.Sprintf("unknown time unit %q; valid: s, min, h", e.TimeUnit)}
	}
	if e.TimeInterval < 0 {
		return &EventApplicationError{EventType: e.Type, Reason: fmt.Sprintf("time_interval must be non-negative, got %g", e.TimeInterval)}
	}
	if len(e.Parameters) == 0 {
		return &EventApplicationError{EventType: e.Type, Reason: "event changes no parameters"}
	}
	for _, c := range e.Parameters {
		if c.Type != Relative && c.Type != Absolute {
			return &EventApplicationError{EventType: e.Type, Parameter: c.Name, Reason: fmt.Sprintf("unknown type %q; valid: relative, absolute", c.Type)}
		}
		if c.Action != Set && c.Action != Decay {
			return &EventApplicationError{EventType: e.Type, Parameter: c.Name, Reason: fmt.Sprintf("unsupported action %q; valid: set, decay", c.Action)}
		}
	}
	return nil
}

// eventFile is the on-disk layout of an event list.
type eventFile struct {
	Events []ScheduledEvent `yaml:"events"`
}

// LoadEvents reads a YAML list of scheduled events.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadEvents(path string) ([]ScheduledEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	var f eventFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing events: %w", err)
	}
	for i := range f.Events {
		if err := f.Events[i].Validate(); err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
	}
	return f.Events, nil
}

// pendingEvent orders events with equal due times by insertion.
type pendingEvent struct {
	event *ScheduledEvent
	seq   uint64
}

// EventQueue implements heap.Interface and orders pending events by due time.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type EventQueue []pendingEvent

func (eq EventQueue) Len() int { return len(eq) }
func (eq EventQueue) Less(i, j int) bool {
	di, dj := eq[i].event.DueAt(), eq[j].event.DueAt()
	if di != dj {
		return di < dj
	}
	return eq[i].seq < eq[j].seq
}
func (eq EventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *EventQueue) Push(x any) {
	*eq = append(*eq, x.(pendingEvent))
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	*eq = old[0 : n-1]
	return item
}

// pendingEvents is the engine's event collection. Due events are extracted into a
// separate slice before any is applied, so applying one never mutates the queue
// being scanned.
type pendingEvents struct {
	queue EventQueue
	seq   uint64
}

func (p *pendingEvents) push(ev *ScheduledEvent) {
	p.seq++
	heap.Push(&p.queue, pendingEvent{event: ev, seq: p.seq})
}

// popDue removes and returns every event due at or before t, in due order.
func (p *pendingEvents) popDue(t float64) []*ScheduledEvent {
	var due []*ScheduledEvent
	for len(p.queue) > 0 && p.queue[0].event.DueAt() <= t+cycleEpsilon {
		due = append(due, heap.Pop(&p.queue).(pendingEvent).event)
	}
	return due
}

// snapshot copies the pending events in due order without disturbing the queue.
func (p *pendingEvents) snapshot() []ScheduledEvent {
	cp := make(EventQueue, len(p.queue))
	copy(cp, p.queue)
	out := make([]ScheduledEvent, 0, len(cp))
	for len(cp) > 0 {
		out = append(out, *heap.Pop(&cp).(pendingEvent).event)
	}
	return out
}

func (p *pendingEvents) len() int { return len(p.queue) }

// changeValue computes the new value of one parameter change.
func changeValue(c ParameterChange, current, baseline float64) float64 {
	switch {
	case c.Type == Relative && c.Action == Set:
		return baseline * c.Value / 100
	case c.Type == Relative && c.Action == Decay:
		return current * (1 - c.Value/100)
	case c.Type == Absolute && c.Action == Decay:
		return current - c.Value
	default:
		return c.Value
	}
}

// applyEvent validates every change of ev before applying any, so a malformed event
// leaves the store untouched.
func applyEvent(s *Store, ev *ScheduledEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	type resolved struct {
		name  string
		value float64
	}
	changes := make([]resolved, 0, len(ev.Parameters))
	for _, c := range ev.Parameters {
		name, err := s.Resolve(c.Name)
		if err != nil {
			return &EventApplicationError{EventType: ev.Type, Parameter: c.Name, Reason: "unknown parameter", Err: err}
		}
		cat, _, err := splitName(name)
		if err != nil {
			return &EventApplicationError{EventType: ev.Type, Parameter: c.Name, Reason: "unknown parameter", Err: err}
		}
		if derivedCategories[cat] {
			return &EventApplicationError{EventType: ev.Type, Parameter: name, Reason: "derived parameters are read-only"}
		}
		current, err := s.Get(name)
		if err != nil {
			return &EventApplicationError{EventType: ev.Type, Parameter: name, Reason: "unknown parameter", Err: err}
		}
		baseline, err := s.Baseline(name)
		if err != nil {
			return &EventApplicationError{EventType: ev.Type, Parameter: name, Reason: "no baseline", Err: err}
		}
		changes = append(changes, resolved{name: name, value: changeValue(c, current, baseline)})
	}
	for _, c := range changes {
		if err := s.Set(c.name, c.value); err != nil {
			return &EventApplicationError{EventType: ev.Type, Parameter: c.name, Reason: "rejected by store", Err: err}
		}
	}
	return nil
}
