package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapsplit/internal/config"
	"firestige.xyz/pcapsplit/internal/decoder"
	"firestige.xyz/pcapsplit/internal/engine"
	"firestige.xyz/pcapsplit/internal/hook"
	"firestige.xyz/pcapsplit/internal/log"
	"firestige.xyz/pcapsplit/internal/metrics"
	"firestige.xyz/pcapsplit/internal/naming"
	"firestige.xyz/pcapsplit/internal/ring"
	"firestige.xyz/pcapsplit/internal/sink"
	"firestige.xyz/pcapsplit/internal/split"
)

func runSplit(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-listen") {
		cfg.Metrics.Enabled = true
	}
	if err := log.Init(&cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger := log.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(context.Background()); err != nil {
				logger.WithError(err).Warn("metrics server stop failed")
			}
		}()
	}

	dec, err := openInput(cfg)
	if err != nil {
		return err
	}
	defer dec.Close()

	policy, err := split.New(cfg.SplitPolicy())
	if err != nil {
		return err
	}
	transport, err := sink.NewTransport(cfg.Transport)
	if err != nil {
		return err
	}
	namer, err := naming.New(cfg.Output.FilenameMode, cfg.Output.Suffix, cfg.Location())
	if err != nil {
		return err
	}
	hooks, err := hook.New(cfg.Hooks)
	if err != nil {
		return err
	}
	defer hooks.Close()

	e := engine.New(engine.Config{
		Base:             cfg.Output.Base,
		Chomp:            cfg.Engine.Chomp,
		ProgressInterval: cfg.Engine.ProgressInterval,
		PollInterval:     cfg.Engine.PollInterval,
		Location:         cfg.Location(),
	}, dec, policy, transport, namer, engine.WithHooks(hooks))

	start := time.Now()
	err = e.Run(ctx)
	logger.WithField("elapsed", time.Since(start).Round(time.Millisecond).String()).Debug("splitter exited")
	return err
}

// openInput prefers the ring, then a file, then stdin.
func openInput(cfg *config.Config) (decoder.Decoder, error) {
	if cfg.Input.Ring != "" {
		r, err := ring.OpenReader(cfg.Input.Ring)
		if err != nil {
			return nil, fmt.Errorf("open ring %s: %w", cfg.Input.Ring, err)
		}
		return decoder.NewRing(r), nil
	}

	opts := decoder.Options{
		BufferSize:     int(cfg.Input.BufferSize),
		MaxEmptyBlocks: cfg.Input.MaxEmptyBlocks,
	}
	if cfg.Input.Path == "-" {
		return decoder.Open(os.Stdin, opts)
	}
	f, err := os.Open(cfg.Input.Path)
	if err != nil {
		return nil, err
	}
	dec, err := decoder.Open(f, opts)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", cfg.Input.Path, err)
	}
	return dec, nil
}
