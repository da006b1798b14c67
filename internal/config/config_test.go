package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/sink"
	"firestige.xyz/pcapsplit/internal/split"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
pcapsplit:
  timezone: UTC
  input:
    path: /data/in.pcap
    max_empty_blocks: 100
  split:
    time: 60e9
    align: true
  output:
    base: /cap/seg_
    filename_mode: tstr-HHMM
    suffix: .pcap.gz
  transport:
    name: pipe
    filter: [gzip, -c]
    write: [rclone, rcat, "remote:{pending}"]
    move: [rclone, moveto, "remote:{pending}", "remote:{final}"]
  engine:
    chomp: 4
  log:
    level: debug
`)

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Split.Mode != split.ModeTime {
		t.Errorf("Expected time mode inferred, got %q", cfg.Split.Mode)
	}
	if cfg.Split.Time != time.Minute {
		t.Errorf("Expected split time 1m, got %v", cfg.Split.Time)
	}
	if !cfg.Split.Align {
		t.Error("Expected align enabled")
	}
	if cfg.Output.Base != "/cap/seg_" || cfg.Output.FilenameMode != "tstr-HHMM" || cfg.Output.Suffix != ".pcap.gz" {
		t.Errorf("Unexpected output config %+v", cfg.Output)
	}
	if cfg.Transport.Name != sink.PipeName {
		t.Errorf("Expected pipe transport, got %s", cfg.Transport.Name)
	}
	if len(cfg.Transport.Filter) != 2 || cfg.Transport.Filter[0] != "gzip" {
		t.Errorf("Unexpected filter %v", cfg.Transport.Filter)
	}
	if len(cfg.Transport.Move) != 4 || cfg.Transport.Move[3] != "remote:{final}" {
		t.Errorf("Unexpected move %v", cfg.Transport.Move)
	}
	if cfg.Engine.Chomp != 4 {
		t.Errorf("Expected chomp 4, got %d", cfg.Engine.Chomp)
	}
	if cfg.Input.MaxEmptyBlocks != 100 {
		t.Errorf("Expected max_empty_blocks 100, got %d", cfg.Input.MaxEmptyBlocks)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Expected UTC location, got %v", cfg.Location())
	}

	pc := cfg.SplitPolicy()
	if pc.Window != time.Minute || pc.Location != time.UTC || !pc.Align {
		t.Errorf("Unexpected split policy config %+v", pc)
	}
}

func TestLoadDefaults(t *testing.T) {
	configPath := writeConfig(t, `
pcapsplit:
  split:
    bytes: 1GB
  output:
    base: /cap/x_
`)
	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Split.Mode != split.ModeByte {
		t.Errorf("Expected byte mode inferred, got %q", cfg.Split.Mode)
	}
	if cfg.Split.Bytes != 1_000_000_000 {
		t.Errorf("Expected 1GB, got %d", cfg.Split.Bytes)
	}
	if cfg.Split.RoundUp != 0.25 {
		t.Errorf("Expected roundup 0.25, got %v", cfg.Split.RoundUp)
	}
	if cfg.Split.MaxSuppressLog != 16 {
		t.Errorf("Expected max_suppress_log 16, got %d", cfg.Split.MaxSuppressLog)
	}
	if cfg.Input.Path != "-" {
		t.Errorf("Expected stdin input, got %q", cfg.Input.Path)
	}
	if cfg.Input.BufferSize != 1<<20 {
		t.Errorf("Expected 1MiB input buffer, got %d", cfg.Input.BufferSize)
	}
	if cfg.Input.MaxEmptyBlocks != 4096 {
		t.Errorf("Expected 4096 empty blocks, got %d", cfg.Input.MaxEmptyBlocks)
	}
	if cfg.Output.FilenameMode != "epoch-sec" || cfg.Output.Suffix != ".pcap" {
		t.Errorf("Unexpected output defaults %+v", cfg.Output)
	}
	if cfg.Transport.Name != sink.FileName {
		t.Errorf("Expected file transport, got %s", cfg.Transport.Name)
	}
	if cfg.Engine.ProgressInterval != 1000000 {
		t.Errorf("Expected progress every 1e6 packets, got %d", cfg.Engine.ProgressInterval)
	}
	if cfg.Engine.PollInterval != time.Millisecond {
		t.Errorf("Expected 1ms poll interval, got %v", cfg.Engine.PollInterval)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Log.Level != "info" || cfg.Log.Console != "stdout" {
		t.Errorf("Unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no split mode", `
pcapsplit:
  output: {base: x}
`},
		{"both split modes", `
pcapsplit:
  split: {bytes: 100, time: 1s}
  output: {base: x}
`},
		{"unknown split mode", `
pcapsplit:
  split: {mode: packets, bytes: 100}
  output: {base: x}
`},
		{"byte mode without bytes", `
pcapsplit:
  split: {mode: byte, time: 1s}
  output: {base: x}
`},
		{"missing base", `
pcapsplit:
  split: {bytes: 100}
`},
		{"unknown filename mode", `
pcapsplit:
  split: {bytes: 100}
  output: {base: x, filename_mode: tstr-YYYY}
`},
		{"chomp too large", `
pcapsplit:
  split: {bytes: 100}
  output: {base: x}
  engine: {chomp: 65}
`},
		{"pipe without write", `
pcapsplit:
  split: {bytes: 100}
  output: {base: x}
  transport: {name: pipe}
`},
		{"unknown transport", `
pcapsplit:
  split: {bytes: 100}
  output: {base: x}
  transport: {name: s3}
`},
		{"bad roundup", `
pcapsplit:
  split: {time: 1s, roundup_fraction: 1.5}
  output: {base: x}
`},
		{"bad timezone", `
pcapsplit:
  timezone: Mars/Olympus
  split: {bytes: 100}
  output: {base: x}
`},
		{"kafka without brokers", `
pcapsplit:
  split: {bytes: 100}
  output: {base: x}
  hooks:
    kafka: {enabled: true, topic: segments}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content), nil)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadExplicitZeroRoundUp(t *testing.T) {
	configPath := writeConfig(t, `
pcapsplit:
  split: {time: 1m, roundup_fraction: 0}
  output: {base: x}
`)
	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if got := cfg.SplitPolicy().RoundUp; got != 0 {
		t.Errorf("Expected explicit roundup 0 to be kept, got %v", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml"), nil); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
pcapsplit:
  split:
    bytes: 100
  output:
    base: /cap/x_
`)
	t.Setenv("PCAPSPLIT_OUTPUT_FILENAME_MODE", "epoch-nsec")
	t.Setenv("PCAPSPLIT_LOG_LEVEL", "warn")

	cfg, err := Load(configPath, nil)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Output.FilenameMode != "epoch-nsec" {
		t.Errorf("Expected env override epoch-nsec, got %s", cfg.Output.FilenameMode)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Expected env override warn, got %s", cfg.Log.Level)
	}
}

func TestLoadFlagsOnly(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.StringP("output", "o", "", "")
	fs.String("split-byte", "", "")
	fs.String("split-time", "", "")
	fs.String("pipe-cmd", "", "")
	fs.Uint32("chomp", 0, "")
	fs.String("filename-mode", "", "")
	if err := fs.Parse([]string{"-o", "/cap/y_", "--split-time", "1h", "--pipe-cmd", "gzip -c", "--chomp", "4"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := Load("", fs)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Output.Base != "/cap/y_" {
		t.Errorf("Expected base from flag, got %q", cfg.Output.Base)
	}
	if cfg.Split.Mode != split.ModeTime || cfg.Split.Time != time.Hour {
		t.Errorf("Expected 1h time split, got %s %v", cfg.Split.Mode, cfg.Split.Time)
	}
	if len(cfg.Transport.Filter) != 2 || cfg.Transport.Filter[1] != "-c" {
		t.Errorf("Expected filter [gzip -c], got %v", cfg.Transport.Filter)
	}
	if cfg.Engine.Chomp != 4 {
		t.Errorf("Expected chomp 4, got %d", cfg.Engine.Chomp)
	}
	if cfg.Output.FilenameMode != "epoch-sec" {
		t.Errorf("Unset flag must not override default, got %q", cfg.Output.FilenameMode)
	}
}

func TestParseByteSize(t *testing.T) {
	tests := map[string]ByteSize{
		"100e9":  100_000_000_000,
		"1024":   1024,
		"1GB":    1_000_000_000,
		"1 GiB":  1 << 30,
		"512MiB": 512 << 20,
	}
	for in, want := range tests {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Errorf("ParseByteSize(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
	for _, in := range []string{"-1", "lots", "1XB"} {
		if _, err := ParseByteSize(in); err == nil {
			t.Errorf("ParseByteSize(%q) expected error", in)
		}
	}
}

func TestParseNanos(t *testing.T) {
	tests := map[string]time.Duration{
		"60e9":        time.Minute,
		"60000000000": time.Minute,
		"1m":          time.Minute,
		"1h30m":       90 * time.Minute,
	}
	for in, want := range tests {
		got, err := ParseNanos(in)
		if err != nil {
			t.Errorf("ParseNanos(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseNanos(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseNanos("soon"); err == nil {
		t.Error("Expected error for bad duration")
	}
}
