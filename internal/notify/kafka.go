package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// messageWriter is the subset of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes every event to a topic named after its type, keyed by
// appointment id so one appointment's events stay ordered on a partition.
type KafkaNotifier struct {
	w       messageWriter
	logger  *slog.Logger
	timeout time.Duration
}

type KafkaConfig struct {
	Brokers      []string
	TopicPrefix  string
	WriteTimeout time.Duration
}

func NewKafkaNotifier(cfg KafkaConfig, logger *slog.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "notify_kafka")

	prefix := strings.TrimSpace(cfg.TopicPrefix)
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				logger.Error("notification publish failed",
					"topic", m.Topic,
					"event_id", HeaderValue(m.Headers, "event_id"),
					"err", err,
				)
			}
		},
	}

	n := newKafkaNotifier(w, logger, cfg.WriteTimeout)
	if prefix != "" {
		return n.withTopicPrefix(prefix), nil
	}
	return n, nil
}

func newKafkaNotifier(w messageWriter, logger *slog.Logger, timeout time.Duration) *KafkaNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaNotifier{w: w, logger: logger, timeout: timeout}
}

func (n *KafkaNotifier) withTopicPrefix(prefix string) *KafkaNotifier {
	return &KafkaNotifier{w: prefixedWriter{w: n.w, prefix: prefix}, logger: n.logger, timeout: n.timeout}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev Event) {
	msg, err := Message(ctx, ev)
	if err != nil {
		n.logger.ErrorContext(ctx, "notification encode failed", "event_id", ev.ID.String(), "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.w.WriteMessages(ctx, msg); err != nil {
		n.logger.ErrorContext(ctx, "notification publish failed",
			"event_id", ev.ID.String(),
			"event_type", string(ev.Type),
			"err", err,
		)
	}
}

func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}

// Message encodes ev as a Kafka message with event metadata and W3C trace
// context headers.
func Message(ctx context.Context, ev Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(ev.ID.String())},
		{Key: "event_type", Value: []byte(ev.Type)},
	}
	return kafka.Message{
		Topic:   string(ev.Type),
		Key:     []byte(ev.Appointment.ID.String()),
		Value:   payload,
		Headers: InjectTraceHeaders(ctx, headers),
		Time:    ev.OccurredAt,
	}, nil
}

type prefixedWriter struct {
	w      messageWriter
	prefix string
}

func (p prefixedWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for i := range msgs {
		msgs[i].Topic = p.prefix + msgs[i].Topic
	}
	return p.w.WriteMessages(ctx, msgs...)
}

func (p prefixedWriter) Close() error { return p.w.Close() }

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// InjectTraceHeaders appends the propagated trace context of ctx to headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	return HeaderValue(c.headers, key)
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ReadyCheck dials the first broker.
func ReadyCheck(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
