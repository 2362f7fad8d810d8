package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/trellis/pkg/metrics"
	"github.com/Ramsey-B/trellis/pkg/models"
	"github.com/Ramsey-B/trellis/pkg/reconcile"
	"github.com/Ramsey-B/trellis/pkg/tracing"
)

// Event types published to the output topic.
const (
	EventLinkUpserted = "link.upserted"
	EventLinkPruned   = "link.pruned"
	EventLinksWiped   = "links.wiped"
	EventRunCompleted = "run.completed"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes link changes as Kafka events
type Producer struct {
	writer MessageWriter
	logger ectologger.Logger
	topic  string
	now    func() time.Time
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

// NewProducerWithWriter wires a producer around an existing writer.
func NewProducerWithWriter(writer MessageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// LinkEvent is emitted for each upserted or pruned link.
type LinkEvent struct {
	EventType  string          `json:"event_type"`
	TenantID   string          `json:"tenant_id"`
	AccountID  string          `json:"account_id"`
	TicketID   string          `json:"ticket_id"`
	Strategy   models.Strategy `json:"strategy,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// TenantEvent is emitted once per wipe or completed run.
type TenantEvent struct {
	EventType string            `json:"event_type"`
	TenantID  string            `json:"tenant_id"`
	Report    *models.RunReport `json:"report,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Name implements reconcile.Sink.
func (p *Producer) Name() string {
	return "kafka"
}

// Publish implements reconcile.Sink. Wipes are published before upserts so
// consumers replaying the topic rebuild the same set.
func (p *Producer) Publish(ctx context.Context, change reconcile.Change) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	ts := p.now()
	var msgs []kafka.Message

	if change.Wiped {
		msg, err := p.tenantMessage(TenantEvent{EventType: EventLinksWiped, TenantID: change.TenantID, Timestamp: ts})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	for _, l := range change.Upserted {
		msg, err := p.linkMessage(LinkEvent{
			EventType:  EventLinkUpserted,
			TenantID:   change.TenantID,
			AccountID:  l.AccountID,
			TicketID:   l.TicketID,
			Strategy:   l.Strategy,
			Confidence: l.Confidence,
			Timestamp:  ts,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	for _, k := range change.Pruned {
		msg, err := p.linkMessage(LinkEvent{
			EventType: EventLinkPruned,
			TenantID:  change.TenantID,
			AccountID: k.AccountID,
			TicketID:  k.TicketID,
			Timestamp: ts,
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if change.Report != nil {
		msg, err := p.tenantMessage(TenantEvent{EventType: EventRunCompleted, TenantID: change.TenantID, Report: change.Report, Timestamp: ts})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) == 0 {
		return nil
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.RecordKafkaPublish(p.topic, "error", time.Since(start).Seconds())
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"tenant_id": change.TenantID,
			"messages":  len(msgs),
		}).Error("Failed to publish link events")
		return err
	}
	metrics.RecordKafkaPublish(p.topic, "success", time.Since(start).Seconds())

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id": change.TenantID,
		"messages":  len(msgs),
	}).Debug("Published link events")

	return nil
}

func (p *Producer) linkMessage(event LinkEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.TenantID + ":" + event.AccountID + ":" + event.TicketID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}, nil
}

func (p *Producer) tenantMessage(event TenantEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.TenantID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "tenant_id", Value: []byte(event.TenantID)},
		},
	}, nil
}
