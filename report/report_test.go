package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mjasion/balena-home/ibeacon/buffer"
	"github.com/mjasion/balena-home/ibeacon/ibeacon"
)

func testRecord() ibeacon.Record {
	return ibeacon.Record{
		Address: "24:0a:c4:00:11:22",
		RSSI:    -67,
		UUID:    "2686F39C-BADA-4658-854A-A62E7E5E8B8D",
		Major:   1,
		Minor:   42,
		TxPower: -59,
		SeenAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	err  error
	sent []published
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.sent = append(p.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(p.err)
}

type failingReporter struct{ calls int }

func (f *failingReporter) Report(context.Context, ibeacon.Record) error {
	f.calls++
	return errors.New("sink down")
}

func TestLine(t *testing.T) {
	want := "addr:24:0a:c4:00:11:22 rssi:-67 uuid:2686F39C-BADA-4658-854A-A62E7E5E8B8D power:-59"
	if got := Line(testRecord()); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestLog_Report(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	if err := NewLog(zap.New(core)).Report(context.Background(), testRecord()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Message != Line(testRecord()) {
		t.Errorf("Unexpected message: %s", entries[0].Message)
	}
	if entries[0].ContextMap()["minor"] != uint16(42) {
		t.Errorf("Expected minor field 42, got %v", entries[0].ContextMap()["minor"])
	}
}

func TestFormatTopic(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"ibeacon/{uuid}/{major}/{minor}", "ibeacon/2686F39C-BADA-4658-854A-A62E7E5E8B8D/1/42"},
		{"presence/{address}", "presence/24:0a:c4:00:11:22"},
		{"static/topic", "static/topic"},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			if got := FormatTopic(tt.pattern, testRecord()); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestMQTT_Report(t *testing.T) {
	pub := &fakePublisher{}
	reporter := NewMQTT(pub, "ibeacon/{uuid}/{minor}", 1, zap.NewNop())

	if err := reporter.Report(context.Background(), testRecord()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(pub.sent) != 1 {
		t.Fatalf("Expected 1 publish, got %d", len(pub.sent))
	}

	msg := pub.sent[0]
	if msg.topic != "ibeacon/2686F39C-BADA-4658-854A-A62E7E5E8B8D/42" {
		t.Errorf("Unexpected topic: %s", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("Expected qos 1, got %d", msg.qos)
	}

	var payload Payload
	if err := json.Unmarshal(msg.payload, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.UUID != testRecord().UUID || payload.Minor != 42 || payload.RSSI != -67 || payload.TxPower != -59 {
		t.Errorf("Unexpected payload: %+v", payload)
	}
	if !payload.SeenAt.Equal(testRecord().SeenAt) {
		t.Errorf("Expected seenAt %v, got %v", testRecord().SeenAt, payload.SeenAt)
	}
}

func TestMQTT_ReportError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	err := NewMQTT(pub, "t", 0, zap.NewNop()).Report(context.Background(), testRecord())
	if err == nil {
		t.Fatal("Expected publish error, got nil")
	}
}

func TestBuffer_Report(t *testing.T) {
	buf := buffer.New[ibeacon.Record](4, zap.NewNop())
	if err := NewBuffer(buf).Report(context.Background(), testRecord()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if buf.Len() != 1 {
		t.Errorf("Expected 1 buffered sighting, got %d", buf.Len())
	}
}

func TestMulti_ContinuesAfterError(t *testing.T) {
	failing := &failingReporter{}
	buf := buffer.New[ibeacon.Record](4, zap.NewNop())
	multi := Multi{failing, NewBuffer(buf)}

	err := multi.Report(context.Background(), testRecord())
	if err == nil {
		t.Fatal("Expected joined error, got nil")
	}
	if failing.calls != 1 {
		t.Errorf("Expected failing reporter to be called once, got %d", failing.calls)
	}
	if buf.Len() != 1 {
		t.Error("Expected the buffer reporter to run after a failure")
	}

	if err := (Multi{}).Report(context.Background(), testRecord()); err != nil {
		t.Errorf("Expected no error from empty fan-out, got: %v", err)
	}
}
