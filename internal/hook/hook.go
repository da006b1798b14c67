// Package hook runs side effects when segments open and close.
package hook

import (
	"context"
	"errors"
	"io"

	"firestige.xyz/pcapsplit/internal/log"
	"firestige.xyz/pcapsplit/internal/sink"
)

// Hook is notified around every segment. Errors are logged by the caller and
// never stop the splitter.
type Hook interface {
	Name() string
	SegmentOpened(ctx context.Context, r sink.Report) error
	SegmentClosed(ctx context.Context, r sink.Report) error
}

// Config selects the hooks to run. A zero Config runs none.
type Config struct {
	Exec  ExecConfig  `mapstructure:"exec" yaml:"exec"`
	Chown ChownConfig `mapstructure:"chown" yaml:"chown"`
	Kafka KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// Chain runs hooks in order.
type Chain []Hook

// New builds the chain described by cfg.
func New(cfg Config) (Chain, error) {
	var c Chain
	if len(cfg.Exec.Open) > 0 || len(cfg.Exec.Close) > 0 {
		c = append(c, NewExec(cfg.Exec))
	}
	if cfg.Chown.Enabled {
		c = append(c, NewChown(cfg.Chown))
	}
	if cfg.Kafka.Enabled {
		k, err := NewKafka(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		c = append(c, k)
	}
	return c, nil
}

func (c Chain) Name() string { return "chain" }

func (c Chain) SegmentOpened(ctx context.Context, r sink.Report) error {
	var errs []error
	for _, h := range c {
		if err := h.SegmentOpened(ctx, r); err != nil {
			log.GetLogger().WithError(err).WithFields(map[string]interface{}{
				"hook":    h.Name(),
				"segment": r.Final,
			}).Warn("open hook failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c Chain) SegmentClosed(ctx context.Context, r sink.Report) error {
	var errs []error
	for _, h := range c {
		if err := h.SegmentClosed(ctx, r); err != nil {
			log.GetLogger().WithError(err).WithFields(map[string]interface{}{
				"hook":    h.Name(),
				"segment": r.Final,
			}).Warn("close hook failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases hooks holding connections.
func (c Chain) Close() error {
	var errs []error
	for _, h := range c {
		if cl, ok := h.(io.Closer); ok {
			errs = append(errs, cl.Close())
		}
	}
	return errors.Join(errs...)
}
