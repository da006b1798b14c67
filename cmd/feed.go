package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapsplit/internal/capture"
	"firestige.xyz/pcapsplit/internal/config"
	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/decoder"
	"firestige.xyz/pcapsplit/internal/log"
	"firestige.xyz/pcapsplit/internal/ring"
)

var (
	feedRing      string
	feedInput     string
	feedInterface string
	feedCapacity  string
	feedFanout    uint16
)

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Copy a capture stream or a live interface into a shared memory ring",
	Long: `Decode a pcap or chunked stream, or capture live from an interface, and
publish every record into a shared memory ring, where a splitter started with
--ring consumes it.

A live capture emits heartbeat records while the interface is idle so time
windows keep closing. The ring is closed once the input ends or on SIGINT/SIGTERM,
so the consumer drains and exits.

Examples:
  tcpdump -w - | pcapsplit feed --ring /dev/shm/capture
  pcapsplit feed --ring /dev/shm/capture --capacity 256MiB -i trace.pcap
  pcapsplit feed --ring /dev/shm/capture --interface eth0 --fanout 7`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		n, err := runFeed(ctx)
		if err != nil {
			exitWithError(fmt.Sprintf("feed stopped after %d records", n), err)
		}
		log.GetLogger().WithField("records", n).Info("feed complete")
	},
}

func init() {
	feedCmd.Flags().StringVar(&feedRing, "ring", "", "ring file to create (required)")
	feedCmd.Flags().StringVarP(&feedInput, "input", "i", "-", "input capture file, - for stdin")
	feedCmd.Flags().StringVar(&feedInterface, "interface", "", "capture live from this interface instead of --input")
	feedCmd.Flags().Uint16Var(&feedFanout, "fanout", 0, "AF_PACKET fanout group id for live capture")
	feedCmd.Flags().StringVar(&feedCapacity, "capacity", "64MiB", "ring data capacity")
	_ = feedCmd.MarkFlagRequired("ring")
}

type recordSource interface {
	Next() (*core.PacketRecord, error)
	Close() error
}

func openFeedSource() (recordSource, error) {
	if feedInterface != "" {
		return capture.Open(capture.Config{Interface: feedInterface, FanoutID: feedFanout})
	}
	var src io.Reader = os.Stdin
	if feedInput != "-" {
		f, err := os.Open(feedInput)
		if err != nil {
			return nil, err
		}
		src = f
	}
	return decoder.Open(src, decoder.Options{})
}

func runFeed(ctx context.Context) (uint64, error) {
	capacity, err := config.ParseByteSize(feedCapacity)
	if err != nil {
		return 0, err
	}
	src, err := openFeedSource()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	w, err := ring.Create(feedRing, uint64(capacity))
	if err != nil {
		return 0, err
	}
	defer w.Close()

	n, err := pump(ctx, src, w)
	logKernelStats(src, log.GetLogger())
	return n, err
}

type recordSink interface {
	Write(rec *core.PacketRecord) error
}

// pump copies records from src to dst until src ends or ctx is cancelled.
// A full ring is retried; cancellation while waiting is a clean stop.
func pump(ctx context.Context, src recordSource, dst recordSink) (uint64, error) {
	var n uint64
	for ctx.Err() == nil {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if errors.Is(err, core.ErrWouldBlock) {
			continue
		}
		if err != nil {
			return n, err
		}
		for {
			err = dst.Write(rec)
			if !errors.Is(err, ring.ErrFull) || ctx.Err() != nil {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if err != nil {
			if ctx.Err() != nil {
				return n, nil
			}
			return n, err
		}
		n++
	}
	return n, nil
}

type kernelStats interface {
	Stats() (packets, drops uint64, err error)
}

// logKernelStats reports the capture socket counters of a live source.
func logKernelStats(src recordSource, logger log.Logger) {
	ks, ok := src.(kernelStats)
	if !ok {
		return
	}
	packets, drops, err := ks.Stats()
	if err != nil {
		logger.WithError(err).Warn("cannot read capture socket statistics")
		return
	}
	l := logger.WithFields(map[string]interface{}{
		"kernel_packets": packets,
		"kernel_drops":   drops,
	})
	if drops > 0 {
		l.Warn("kernel dropped packets during capture")
		return
	}
	l.Info("capture socket statistics")
}
