package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"xdao.co/ekexport/export"
	"xdao.co/ekexport/storage"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testFile(t *testing.T, n int) export.File {
	t.Helper()
	obj, err := storage.NewObject("GB/1-2-00001.zip", "mem://GB/1-2-00001.zip", []byte("archive"))
	if err != nil {
		t.Fatal(err)
	}
	return export.File{Name: obj.Name, Location: obj.Location, CID: obj.CID, Size: obj.Size, BatchNum: n, BatchSize: 2}
}

func TestNewEvent(t *testing.T) {
	f := testFile(t, 1)
	e := NewEvent("run-1", "GB", time.UnixMilli(1234), time.UnixMilli(5678), true, f)
	if _, err := uuid.Parse(e.ID); err != nil {
		t.Fatalf("event id is not a uuid: %q", e.ID)
	}
	want := Event{
		RunID: "run-1", Region: "GB", Name: f.Name, Location: f.Location, CID: f.CID.String(),
		Size: f.Size, BatchNum: 1, BatchSize: 2, StartTimestamp: 1234, EndTimestamp: 5678, Signed: true,
	}
	if diff := cmp.Diff(want, e, cmpopts.IgnoreFields(Event{}, "ID", "Time")); diff != "" {
		t.Fatalf("event (-want +got):\n%s", diff)
	}
}

func TestKafkaPublisher(t *testing.T) {
	fw := &fakeWriter{}
	p := newKafkaPublisher(fw, nil)
	events := []Event{
		NewEvent("r", "GB", time.UnixMilli(1), time.UnixMilli(2), false, testFile(t, 1)),
		NewEvent("r", "GB", time.UnixMilli(1), time.UnixMilli(2), false, testFile(t, 2)),
	}
	if err := p.Publish(context.Background(), events...); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(fw.msgs) != 2 {
		t.Fatalf("messages: got %d want 2", len(fw.msgs))
	}
	for i, m := range fw.msgs {
		if string(m.Key) != "GB" {
			t.Fatalf("message %d key: %q", i, m.Key)
		}
		var got Event
		if err := json.Unmarshal(m.Value, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != events[i].ID || got.BatchNum != i+1 {
			t.Fatalf("message %d: %+v", i, got)
		}
	}
	if err := p.Publish(context.Background()); err != nil {
		t.Fatalf("empty Publish: %v", err)
	}
	if err := p.Close(); err != nil || !fw.closed {
		t.Fatalf("Close: %v closed=%v", err, fw.closed)
	}
}

func TestKafkaPublisherError(t *testing.T) {
	boom := errors.New("broker down")
	p := newKafkaPublisher(&fakeWriter{err: boom}, nil)
	err := p.Publish(context.Background(), NewEvent("r", "GB", time.Time{}, time.Time{}, false, testFile(t, 1)))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v want %v", err, boom)
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "exports"}, nil); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil); err == nil {
		t.Fatalf("expected error without topic")
	}
	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "exports"}, nil)
	if err != nil {
		t.Fatalf("NewKafkaPublisher: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
