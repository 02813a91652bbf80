package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Agrid-Dev/preheat/internal/heating"
	"github.com/Agrid-Dev/preheat/internal/ports"
	"github.com/Agrid-Dev/preheat/internal/testutil"
)

var (
	_ ports.Notifier = (*Log)(nil)
	_ ports.Notifier = (*Kafka)(nil)
	_ ports.Notifier = Multi(nil)
)

var event = heating.Event{
	Action: heating.ActionAdvanceSchedule,
	Room:   "climate.wiser_dining_room",
	Time:   time.Date(2026, time.January, 12, 6, 0, 0, 0, time.UTC),
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
	ctxErr error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		f.ctxErr = errors.New("write without deadline")
	}
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaNotify(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{w: w, timeout: time.Second}

	if err := k.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify() failed: %v", err)
	}
	if w.ctxErr != nil {
		t.Fatal(w.ctxErr)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != event.Room {
		t.Fatalf("expected key %q, got %q", event.Room, m.Key)
	}
	var got heating.Event
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.Action != event.Action || got.Room != event.Room || !got.Time.Equal(event.Time) {
		t.Fatalf("got %+v, want %+v", got, event)
	}

	if err := k.Close(); err != nil || !w.closed {
		t.Fatal("expected writer closed")
	}
}

func TestKafkaNotifyError(t *testing.T) {
	boom := errors.New("leader not available")
	k := &Kafka{w: &fakeWriter{err: boom}, timeout: time.Second}

	if err := k.Notify(context.Background(), event); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestNewKafka(t *testing.T) {
	if _, err := NewKafka(KafkaConfig{}); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
	k, err := NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}})
	if err != nil {
		t.Fatal(err)
	}
	w, ok := k.w.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", k.w)
	}
	if w.Topic != "preheat.events" || w.RequiredAcks != kafka.RequireOne {
		t.Fatalf("unexpected writer config topic=%q acks=%v", w.Topic, w.RequiredAcks)
	}
	_ = k.Close()
}

func TestMultiTriesEverySink(t *testing.T) {
	failing := &testutil.FakeNotifier{Err: errors.New("broker down")}
	ok := &testutil.FakeNotifier{}
	m := Multi{failing, NewLog(nil), ok}

	err := m.Notify(context.Background(), event)

	if err == nil || err.Error() != "broker down" {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.Recorded()) != 1 || len(failing.Recorded()) != 1 {
		t.Fatal("every sink should receive the event")
	}
}

func TestMultiEmpty(t *testing.T) {
	if err := (Multi{}).Notify(context.Background(), event); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
