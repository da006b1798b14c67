// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/pcapsplit/internal/config"
	"firestige.xyz/pcapsplit/internal/naming"
	"firestige.xyz/pcapsplit/internal/sink"
)

var configFile string

// rootCmd splits the input stream when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pcapsplit -o <base> (--split-byte N | --split-time D) [flags]",
	Short: "pcapsplit - split a packet capture stream into rolling segment files",
	Long: `pcapsplit reads a pcap (nanosecond or microsecond) or chunked capture stream
from stdin, a file or a shared memory ring and writes it out as a sequence of
pcap segments, rolled by size or by time window.

Every segment is written under a temporary ".pending" name and only gets its
final name once it is complete, so downstream consumers never see a partial file.

Examples:
  tcpdump -w - | pcapsplit -o /data/cap_ --split-byte 1GiB
  pcapsplit -o /data/cap_ --split-time 1m --split-align --filename-mode tstr-HHMM < in.pcap
  pcapsplit -o remote:bucket/cap_ --split-time 5m --transport pipe \
      --pipe-write "rclone rcat {pending}" --pipe-move "rclone moveto {pending} {final}"
  pcapsplit -c /etc/pcapsplit/config.yml --ring /dev/shm/capture`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runSplit,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	f := rootCmd.Flags()
	f.StringP("output", "o", "", "segment name prefix, e.g. /data/cap_")
	f.String("split-byte", "", "roll after this many bytes (accepts 1000000000, 1GB, 1GiB)")
	f.String("split-time", "", "roll every window (accepts nanoseconds or 1m, 1h30m)")
	f.Bool("split-align", false, "align time windows to wall-clock multiples in --timezone")
	f.String("filename-mode", naming.ModeEpochSec, fmt.Sprintf("segment stamp format, one of %v", naming.Modes))
	f.String("filename-suffix", naming.DefaultSuffix, "segment name suffix")
	f.String("transport", sink.FileName, fmt.Sprintf("segment transport, one of %v", sink.Names()))
	f.String("pipe-cmd", "", "filter command every segment is piped through, e.g. \"zstd -c\"")
	f.String("pipe-write", "", "pipe transport writer command, {pending} and {final} are expanded")
	f.String("pipe-move", "", "pipe transport publish command, {pending} and {final} are expanded")
	f.Uint32("chomp", 0, fmt.Sprintf("trim this many trailing bytes from every packet (max %d)", config.MaxChomp))
	f.StringP("input", "i", "-", "input capture file, - for stdin")
	f.String("ring", "", "shared memory ring to consume instead of --input")
	f.String("timezone", "Local", "timezone for aligned windows and tstr file names")
	f.String("log-level", "info", "log level (trace/debug/info/warn/error)")
	f.String("metrics-listen", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(feedCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
