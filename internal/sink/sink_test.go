package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"squitter-iq/internal/iq"
	"squitter-iq/internal/modes"
)

func testRecord() Record {
	s := iq.Sample{I: 1, Q: 0}
	est := iq.Estimate(s, 1089000000, 60000000)
	return Record{
		Session:  "test",
		Seq:      1,
		Time:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Frame:    "8D40058B58C901375147EFD0935700000001" + "00000000",
		Payload:  "8D40058B58C901375147EFD09357",
		Tail:     "0000000100000000",
		Sample:   &s,
		Estimate: &est,
		Classification: modes.Classification{
			State:     modes.StateDispatched,
			DF:        17,
			TC:        11,
			HasTC:     true,
			ICAO:      "40058B",
			Requested: []modes.Field{modes.FieldAltitude, modes.FieldPosition},
			Altitude:  &modes.Altitude{Value: 38000, Unit: modes.UnitFeet},
			Position:  &modes.Position{LatDeg: -34.93, LonDeg: 138.61},
		},
	}
}

func TestConsole_Dispatched(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	if err := c.Emit(testRecord()); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	want := "Data received: 8D40058B58C901375147EFD09357\n" +
		"Downlink Format: DF-17\n" +
		"Type Code: 11\n" +
		"ICAO: 40058B\n" +
		"Altitude: 38000 ft\n" +
		"Coordinates: -34.930000, 138.610000\n" +
		"Frequency estimation: 1089000000 Hz\n"
	if buf.String() != want {
		t.Fatalf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestConsole_IgnoredPrintsOnlyFrequency(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	r := testRecord()
	r.Classification = modes.Classification{DF: 11}
	if err := c.Emit(r); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Frequency estimation: 1089000000 Hz\n" {
		t.Fatalf("got %q", buf.String())
	}

	buf.Reset()
	r.Estimate = nil
	r.Sample = nil
	r.IQError = "malformed i/q hex"
	if err := c.Emit(r); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestConsole_DispatchedWithoutEstimate(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	r := testRecord()
	r.Estimate = nil
	r.Sample = nil
	r.IQError = "malformed i/q hex"
	if err := c.Emit(r); err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(buf.String(), "Frequency estimation: unavailable (malformed i/q hex)\n") {
		t.Fatalf("got %q", buf.String())
	}
}

type recordingSink struct {
	got    []Record
	err    error
	closed bool
}

func (s *recordingSink) Emit(r Record) error {
	s.got = append(s.got, r)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &recordingSink{}
	b := &recordingSink{err: boom}
	c := &recordingSink{}
	m := Multi{a, b, c}

	if err := m.Emit(testRecord()); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if len(a.got) != 1 || len(c.got) != 1 {
		t.Fatalf("every sink should see the record: a=%d c=%d", len(a.got), len(c.got))
	}
	if err := m.Close(); !errors.Is(err, boom) {
		t.Fatalf("close err=%v", err)
	}
	if !a.closed || !b.closed || !c.closed {
		t.Fatalf("every sink should be closed")
	}
	if err := (Multi{}).Emit(testRecord()); err != nil {
		t.Fatalf("empty multi: %v", err)
	}
}

type fakeToken struct {
	err      error
	finished bool
}

func (t *fakeToken) Wait() bool                     { return t.finished }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.finished }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.finished {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakePublisher struct {
	topics       []string
	payloads     [][]byte
	token        *fakeToken
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	return p.token
}

func (p *fakePublisher) Disconnect(quiesce uint) { p.disconnected = true }

func TestMQTT_TopicPerAircraft(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{finished: true}}
	m := newMQTT(pub, MQTTConfig{Topic: "adsb/", PublishTimeout: time.Second})

	if err := m.Emit(testRecord()); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	r := testRecord()
	r.Classification = modes.Classification{DF: 4}
	if err := m.Emit(r); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if len(pub.topics) != 2 || pub.topics[0] != "adsb/40058B" || pub.topics[1] != "adsb" {
		t.Fatalf("topics=%v", pub.topics)
	}
	var got Record
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Payload != "8D40058B58C901375147EFD09357" || got.Estimate == nil || got.Estimate.FrequencyHz != 1089000000 {
		t.Fatalf("got=%+v", got)
	}

	if err := m.Close(); err != nil || !pub.disconnected {
		t.Fatalf("Close() err=%v disconnected=%v", err, pub.disconnected)
	}
}

func TestMQTT_PublishErrors(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{}}
	m := newMQTT(pub, MQTTConfig{PublishTimeout: time.Millisecond})
	if err := m.Emit(testRecord()); err == nil {
		t.Fatalf("expected timeout error")
	}

	boom := errors.New("not authorized")
	pub.token = &fakeToken{finished: true, err: boom}
	if err := m.Emit(testRecord()); !errors.Is(err, boom) {
		t.Fatalf("err=%v want %v", err, boom)
	}

	// Fire and forget does not wait on the token.
	m = newMQTT(pub, MQTTConfig{})
	if err := m.Emit(testRecord()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if m.topic != "squitter" {
		t.Fatalf("default topic=%q", m.topic)
	}
}

func TestNewMQTT_RequiresBroker(t *testing.T) {
	if _, err := NewMQTT(MQTTConfig{}, zerolog.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
