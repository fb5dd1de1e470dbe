// Package alerting delivers finished calibration runs to downstream
// consumers. Every publisher here satisfies calibration.Publisher.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/config"
	"github.com/strrl/viralscope/internal/logging"
)

// EventType tags the payload so consumers can share one topic.
const EventType = "calibration.run"

const writeTimeout = 10 * time.Second

// Event is the wire form of a calibration result.
type Event struct {
	Type   string                `json:"type"`
	SentAt time.Time             `json:"sent_at"`
	Result calibration.RunResult `json:"result"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one message per run, keyed by run id.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic must not be empty")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
		Async:        false,
	}
	return newKafkaPublisher(w, cfg.Topic), nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, now: time.Now}
}

func (p *KafkaPublisher) Publish(ctx context.Context, result calibration.RunResult) error {
	value, err := Encode(result, p.now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(result.RunID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(EventType)},
			{Key: "status", Value: []byte(result.Status)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write to %s: %w", p.topic, err)
	}

	logging.Ctx(ctx).Debug().
		Str("topic", p.topic).
		Str("run_id", result.RunID).
		Msg("published calibration result")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Encode renders the event payload.
func Encode(result calibration.RunResult, sentAt time.Time) ([]byte, error) {
	data, err := json.Marshal(Event{Type: EventType, SentAt: sentAt.UTC(), Result: result})
	if err != nil {
		return nil, fmt.Errorf("failed to encode calibration event: %w", err)
	}
	return data, nil
}

// LogPublisher writes results to the structured log. Drift is logged at warn.
type LogPublisher struct {
	logger zerolog.Logger
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, result calibration.RunResult) error {
	event := p.logger.Info()
	if result.DriftDetected {
		event = p.logger.Warn()
	}
	event = event.
		Str("run_id", result.RunID).
		Str("status", string(result.Status)).
		Float64("ece", result.ECE).
		Bool("drift", result.DriftDetected).
		Uint32("samples", result.TotalSamples).
		Bool("refitted", result.PlattRefitted)
	if result.FitStatus != "" {
		event = event.Str("fit_status", string(result.FitStatus))
	}
	if result.SkipReason != "" {
		event = event.Str("skip_reason", result.SkipReason)
	}
	event.Msg("calibration run finished")
	return nil
}

// Multi fans a result out to several publishers and joins their errors.
type Multi []calibration.Publisher

func (m Multi) Publish(ctx context.Context, result calibration.RunResult) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig returns the log publisher, plus Kafka when enabled. The closer
// releases the Kafka writer.
func FromConfig(cfg config.KafkaConfig) (calibration.Publisher, func() error, error) {
	logPub := NewLogPublisher(logging.WithComponent("alerting"))
	if !cfg.Enabled {
		return logPub, func() error { return nil }, nil
	}

	kp, err := NewKafkaPublisher(cfg)
	if err != nil {
		return nil, nil, err
	}
	return Multi{logPub, kp}, kp.Close, nil
}
