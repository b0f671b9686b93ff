package publish

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

var t0 = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func testVitals() sim.Vitals {
	return sim.Vitals{
		Timestamp: t0,
		SimTime:   12,
		Averaged:  map[string]float64{sim.VitalHeartRate: 72, sim.VitalMAP: 91.5},
		Raw:       map[string]float64{sim.RawArterialPressure: 118},
	}
}

func testEvent(active bool) alarm.Event {
	return alarm.Event{
		ID:        uuid.New(),
		Parameter: alarm.HeartRate,
		Level:     alarm.LevelHigh,
		Active:    active,
		Value:     130,
		Timestamp: t0,
		Priority:  alarm.PriorityMedium,
	}
}

// fakeConn records publishes in place of a NATS connection.
type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

var (
	_ sim.Sink       = (*NATSPublisher)(nil)
	_ alarm.Listener = (*NATSPublisher)(nil)
	_ sim.Sink       = (*Hub)(nil)
	_ alarm.Listener = (*Hub)(nil)
	_ sim.Sink       = (*Exporter)(nil)
	_ alarm.Listener = (*Exporter)(nil)
)

func TestNATSPublisher_Vitals_PublishesEnvelope(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "", "")
	require.NoError(t, p.PublishVitals(testVitals()))

	require.Equal(t, []string{DefaultVitalsSubject}, conn.subjects)
	var env Envelope
	require.NoError(t, json.Unmarshal(conn.payloads[0], &env))
	assert.Equal(t, KindVitals, env.Kind)
	require.NotNil(t, env.Vitals)
	assert.Equal(t, 72.0, env.Vitals.Averaged[sim.VitalHeartRate])
	assert.Equal(t, 12.0, env.Vitals.SimTime)
	assert.Nil(t, env.Alarm)
}

func TestNATSPublisher_Alarm_PublishesOnParameterSubject(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, "v", "a")
	ev := testEvent(true)
	require.NoError(t, p.PublishAlarm(ev))

	assert.Equal(t, []string{"a", "a." + alarm.HeartRate}, conn.subjects)
	var env Envelope
	require.NoError(t, json.Unmarshal(conn.payloads[1], &env))
	assert.Equal(t, KindAlarm, env.Kind)
	require.NotNil(t, env.Alarm)
	assert.Equal(t, ev.ID, env.Alarm.ID)
	assert.Equal(t, alarm.LevelHigh, env.Alarm.Level)
	assert.True(t, env.Alarm.Active)
}

func TestNATSPublisher_ConnError_Returned(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := NewNATSPublisher(conn, "", "")
	assert.Error(t, p.PublishVitals(testVitals()))
	assert.Error(t, p.PublishAlarm(testEvent(true)))
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHub_Broadcast_ReachesClient(t *testing.T) {
	h := NewHub()
	c := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.PublishVitals(testVitals()))
	require.NoError(t, h.PublishAlarm(testEvent(true)))

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	require.NoError(t, c.ReadJSON(&env))
	assert.Equal(t, KindVitals, env.Kind)
	require.NoError(t, c.ReadJSON(&env))
	assert.Equal(t, KindAlarm, env.Kind)
	assert.Equal(t, alarm.HeartRate, env.Alarm.Parameter)
}

func TestHub_ClientDisconnect_Removed(t *testing.T) {
	h := NewHub()
	c := dialHub(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, h.PublishVitals(testVitals()))
}

func TestHub_Close_DropsClients(t *testing.T) {
	h := NewHub()
	dialHub(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	h.Close()
	assert.Zero(t, h.Clients())
}

func scrape(t *testing.T, e *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestExporter_Vitals_ExposedAsGauges(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.PublishVitals(testVitals()))

	body := scrape(t, e)
	assert.Contains(t, body, `physiosim_vital{name="heart_rate"} 72`)
	assert.Contains(t, body, `physiosim_vital{name="MAP"} 91.5`)
	assert.Contains(t, body, `physiosim_vital_valid{name="heart_rate"} 1`)
	assert.Contains(t, body, `physiosim_sim_time_seconds 12`)
	assert.Contains(t, body, `physiosim_vitals_frames_total 1`)
}

func TestExporter_InvalidVital_MarkedInvalidAndValueHeld(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.PublishVitals(testVitals()))
	lead := testVitals()
	lead.Averaged[sim.VitalHeartRate] = 40
	lead.Invalid = map[string]bool{sim.VitalHeartRate: true}
	require.NoError(t, e.PublishVitals(lead))

	body := scrape(t, e)
	assert.Contains(t, body, `physiosim_vital_valid{name="heart_rate"} 0`)
	assert.Contains(t, body, `physiosim_vital{name="heart_rate"} 72`)
}

func TestExporter_Alarms_TrackActiveAndCount(t *testing.T) {
	e := NewExporter()
	require.NoError(t, e.PublishAlarm(testEvent(true)))
	body := scrape(t, e)
	assert.Contains(t, body, `physiosim_alarm_active{level="high",parameter="HeartRate"} 1`)

	require.NoError(t, e.PublishAlarm(testEvent(false)))
	body = scrape(t, e)
	assert.Contains(t, body, `physiosim_alarm_active{level="high",parameter="HeartRate"} 0`)
	assert.Contains(t, body, `physiosim_alarm_events_total{level="high",parameter="HeartRate",state="activated"} 1`)
	assert.Contains(t, body, `physiosim_alarm_events_total{level="high",parameter="HeartRate",state="resolved"} 1`)
}
