package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/pcapsplit/internal/log"
	"firestige.xyz/pcapsplit/internal/sink"
)

const (
	defaultKafkaBatchTimeout = 100 * time.Millisecond
	defaultKafkaWriteTimeout = 5 * time.Second
)

// KafkaConfig publishes a record for every closed segment.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers,omitempty"`
	Topic        string        `mapstructure:"topic" yaml:"topic,omitempty"`
	Compression  string        `mapstructure:"compression" yaml:"compression,omitempty"` // none|gzip|snappy|lz4
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout,omitempty"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout,omitempty"`
}

// SegmentEvent is the JSON value published per closed segment.
type SegmentEvent struct {
	ID             string    `json:"id"`
	Host           string    `json:"host"`
	Final          string    `json:"final"`
	Transport      string    `json:"transport"`
	Bytes          uint64    `json:"bytes"`
	Packets        uint64    `json:"packets"`
	Dropped        uint64    `json:"dropped,omitempty"`
	Opened         time.Time `json:"opened"`
	Closed         time.Time `json:"closed"`
	FirstTS        int64     `json:"first_ts"`
	LastTS         int64     `json:"last_ts"`
	WindowTime     int64     `json:"window_time"`
	WindowPrevious int64     `json:"window_previous"`
	Error          string    `json:"error,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes segment events. Delivery failures are returned to
// the chain, which logs them; nothing is retried beyond the writer's own attempts.
type KafkaNotifier struct {
	writer  messageWriter
	host    string
	timeout time.Duration
}

func NewKafka(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka hook: brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka hook: topic is required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultKafkaBatchTimeout
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		MaxAttempts:  1,
	}
	switch cfg.Compression {
	case "none", "":
	case "gzip":
		w.Compression = compress.Gzip
	case "snappy":
		w.Compression = compress.Snappy
	case "lz4":
		w.Compression = compress.Lz4
	default:
		return nil, fmt.Errorf("kafka hook: invalid compression type: %s", cfg.Compression)
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Info("kafka segment notifier configured")
	return newKafka(w, cfg.WriteTimeout), nil
}

func newKafka(w messageWriter, timeout time.Duration) *KafkaNotifier {
	if timeout <= 0 {
		timeout = defaultKafkaWriteTimeout
	}
	host, _ := os.Hostname()
	return &KafkaNotifier{writer: w, host: host, timeout: timeout}
}

func (k *KafkaNotifier) Name() string { return "kafka" }

func (k *KafkaNotifier) SegmentOpened(context.Context, sink.Report) error { return nil }

func (k *KafkaNotifier) SegmentClosed(ctx context.Context, r sink.Report) error {
	ev := SegmentEvent{
		ID:             ulid.Make().String(),
		Host:           k.host,
		Final:          r.Final,
		Transport:      r.Transport,
		Bytes:          r.Bytes,
		Packets:        r.Packets,
		Dropped:        r.Dropped,
		Opened:         r.Opened,
		Closed:         r.Closed,
		FirstTS:        r.FirstTS,
		LastTS:         r.LastTS,
		WindowTime:     r.Boundary.Time,
		WindowPrevious: r.Boundary.Previous,
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize segment event failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.Final),
		Value: value,
		Time:  r.Closed,
	})
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
