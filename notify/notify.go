// Package notify announces written export files to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"xdao.co/ekexport/export"
)

// Event reports one export archive that is ready for distribution.
type Event struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id,omitempty"`
	Region         string    `json:"region"`
	Name           string    `json:"name"`
	Location       string    `json:"location"`
	CID            string    `json:"cid"`
	Size           int64     `json:"size"`
	BatchNum       int       `json:"batch_num"`
	BatchSize      int       `json:"batch_size"`
	StartTimestamp int64     `json:"start_timestamp"`
	EndTimestamp   int64     `json:"end_timestamp"`
	Signed         bool      `json:"signed"`
	Time           time.Time `json:"time"`
}

// NewEvent builds the event for f with a fresh id.
func NewEvent(runID, region string, start, end time.Time, signed bool, f export.File) Event {
	return Event{
		ID:             uuid.NewString(),
		RunID:          runID,
		Region:         region,
		Name:           f.Name,
		Location:       f.Location,
		CID:            f.CID.String(),
		Size:           f.Size,
		BatchNum:       f.BatchNum,
		BatchSize:      f.BatchSize,
		StartTimestamp: start.UnixMilli(),
		EndTimestamp:   end.UnixMilli(),
		Signed:         signed,
		Time:           time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the brokers and topic events are written to.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	// WriteTimeout defaults to 10s.
	WriteTimeout time.Duration
}

// KafkaPublisher writes events as JSON, keyed by region so one region's
// events stay ordered within a partition.
type KafkaPublisher struct {
	w   messageWriter
	log *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, log *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("notify: at least one kafka broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("notify: kafka topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisher(w, log), nil
}

func newKafkaPublisher(w messageWriter, log *zap.Logger) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{w: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("notify: encode event %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Region),
			Value: b,
			Time:  e.Time,
			Headers: []kafka.Header{
				{Key: "event-id", Value: []byte(e.ID)},
			},
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("notify: kafka write: %w", err)
	}
	p.log.Debug("published export events", zap.Int("count", len(events)))
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
