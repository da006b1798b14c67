// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/pcapsplit/internal/core"
	"firestige.xyz/pcapsplit/internal/hook"
	"firestige.xyz/pcapsplit/internal/log"
	"firestige.xyz/pcapsplit/internal/naming"
	"firestige.xyz/pcapsplit/internal/sink"
	"firestige.xyz/pcapsplit/internal/split"
)

// MaxChomp bounds the number of trailing bytes that may be trimmed per packet.
const MaxChomp = 64

// Config represents the whole splitter configuration.
// Maps to the `pcapsplit:` root key in YAML.
type Config struct {
	Input     InputConfig      `mapstructure:"input" yaml:"input"`
	Split     SplitConfig      `mapstructure:"split" yaml:"split"`
	Output    OutputConfig     `mapstructure:"output" yaml:"output"`
	Transport sink.Config      `mapstructure:"transport" yaml:"transport"`
	Hooks     hook.Config      `mapstructure:"hooks" yaml:"hooks"`
	Engine    EngineConfig     `mapstructure:"engine" yaml:"engine"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Log       log.LoggerConfig `mapstructure:"log" yaml:"log"`
	Timezone  string           `mapstructure:"timezone" yaml:"timezone"` // IANA name or "Local"

	loc *time.Location
}

// ─── Input ───

// InputConfig selects where packets come from. Ring wins over Path when set.
type InputConfig struct {
	Path           string   `mapstructure:"path" yaml:"path"` // "-" = stdin
	Ring           string   `mapstructure:"ring" yaml:"ring,omitempty"`
	BufferSize     ByteSize `mapstructure:"buffer_size" yaml:"buffer_size"`
	MaxEmptyBlocks int      `mapstructure:"max_empty_blocks" yaml:"max_empty_blocks"`
}

// ─── Split ───

// SplitConfig selects the split policy. Mode may be left empty when exactly
// one of Bytes and Time is set.
type SplitConfig struct {
	Mode           string        `mapstructure:"mode" yaml:"mode"`
	Bytes          ByteSize      `mapstructure:"bytes" yaml:"bytes,omitempty"`
	Time           time.Duration `mapstructure:"time" yaml:"time,omitempty"`
	Align          bool          `mapstructure:"align" yaml:"align"`
	RoundUp        float64       `mapstructure:"roundup_fraction" yaml:"roundup_fraction"`
	MaxSuppressLog int           `mapstructure:"max_suppress_log" yaml:"max_suppress_log"`
}

// ─── Output naming ───

// OutputConfig names segments: Base + stamp + Suffix.
type OutputConfig struct {
	Base         string `mapstructure:"base" yaml:"base"`
	FilenameMode string `mapstructure:"filename_mode" yaml:"filename_mode"`
	Suffix       string `mapstructure:"suffix" yaml:"suffix"`
}

// ─── Engine ───

// EngineConfig tunes the main loop.
type EngineConfig struct {
	Chomp            uint32        `mapstructure:"chomp" yaml:"chomp"`
	ProgressInterval uint64        `mapstructure:"progress_interval" yaml:"progress_interval"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pcapsplit: ...`.
type configRoot struct {
	PcapSplit Config `mapstructure:"pcapsplit"`
}

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"output":          "pcapsplit.output.base",
	"split-byte":      "pcapsplit.split.bytes",
	"split-time":      "pcapsplit.split.time",
	"split-align":     "pcapsplit.split.align",
	"filename-mode":   "pcapsplit.output.filename_mode",
	"filename-suffix": "pcapsplit.output.suffix",
	"transport":       "pcapsplit.transport.name",
	"pipe-cmd":        "pcapsplit.transport.filter",
	"pipe-write":      "pcapsplit.transport.write",
	"pipe-move":       "pcapsplit.transport.move",
	"chomp":           "pcapsplit.engine.chomp",
	"input":           "pcapsplit.input.path",
	"ring":            "pcapsplit.input.ring",
	"timezone":        "pcapsplit.timezone",
	"log-level":       "pcapsplit.log.level",
	"metrics-listen":  "pcapsplit.metrics.listen",
}

// Load builds the configuration from, in increasing priority, defaults, the
// YAML file at path (skipped when empty), PCAPSPLIT_* environment variables
// and the flags in fs that were set on the command line.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// key "pcapsplit.split.mode" → env "PCAPSPLIT_SPLIT_MODE"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		for name, key := range FlagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		StringToByteSizeHookFunc(),
		StringToNanosHookFunc(),
		mapstructure.StringToSliceHookFunc(" "),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.PcapSplit

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "pcapsplit." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("pcapsplit.timezone", "Local")

	// Input defaults
	v.SetDefault("pcapsplit.input.path", "-")
	v.SetDefault("pcapsplit.input.ring", "")
	v.SetDefault("pcapsplit.input.buffer_size", "1MiB")
	v.SetDefault("pcapsplit.input.max_empty_blocks", 4096)

	// Split defaults
	v.SetDefault("pcapsplit.split.mode", "")
	v.SetDefault("pcapsplit.split.bytes", 0)
	v.SetDefault("pcapsplit.split.time", 0)
	v.SetDefault("pcapsplit.split.align", false)
	v.SetDefault("pcapsplit.split.roundup_fraction", split.DefaultRoundUp)
	v.SetDefault("pcapsplit.split.max_suppress_log", 16)

	// Output defaults
	v.SetDefault("pcapsplit.output.base", "")
	v.SetDefault("pcapsplit.output.filename_mode", naming.ModeEpochSec)
	v.SetDefault("pcapsplit.output.suffix", naming.DefaultSuffix)

	// Transport defaults
	v.SetDefault("pcapsplit.transport.name", sink.FileName)
	v.SetDefault("pcapsplit.transport.compression", sink.CompressionNone)
	v.SetDefault("pcapsplit.transport.make_dirs", false)

	// Engine defaults
	v.SetDefault("pcapsplit.engine.chomp", 0)
	v.SetDefault("pcapsplit.engine.progress_interval", 1000000)
	v.SetDefault("pcapsplit.engine.poll_interval", "1ms")

	// Metrics defaults
	v.SetDefault("pcapsplit.metrics.enabled", false)
	v.SetDefault("pcapsplit.metrics.listen", ":9091")
	v.SetDefault("pcapsplit.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("pcapsplit.log.level", "info")
	v.SetDefault("pcapsplit.log.pattern", log.DefaultPattern)
	v.SetDefault("pcapsplit.log.time", log.DefaultTime)
	v.SetDefault("pcapsplit.log.console", "stdout")
	v.SetDefault("pcapsplit.log.file.enabled", false)
	v.SetDefault("pcapsplit.log.file.max_size", 100)
	v.SetDefault("pcapsplit.log.file.max_backups", 5)
	v.SetDefault("pcapsplit.log.file.max_age", 30)
}

// ValidateAndApplyDefaults validates configuration and resolves derived values.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Split mode ──
	if cfg.Split.Mode == "" {
		switch {
		case cfg.Split.Bytes > 0 && cfg.Split.Time > 0:
			return invalid("both split.bytes and split.time are set, choose one with split.mode")
		case cfg.Split.Bytes > 0:
			cfg.Split.Mode = split.ModeByte
		case cfg.Split.Time > 0:
			cfg.Split.Mode = split.ModeTime
		default:
			return invalid("no split mode selected (set split.bytes or split.time)")
		}
	}
	switch cfg.Split.Mode {
	case split.ModeByte:
		if cfg.Split.Bytes == 0 {
			return invalid("split.bytes must be positive in byte mode")
		}
	case split.ModeTime:
		if cfg.Split.Time <= 0 {
			return invalid("split.time must be positive in time mode")
		}
	default:
		return invalid(fmt.Sprintf("unknown split.mode %q (must be byte/time)", cfg.Split.Mode))
	}
	if cfg.Split.RoundUp < 0 || cfg.Split.RoundUp >= 1 {
		return invalid(fmt.Sprintf("split.roundup_fraction %.3f outside [0,1)", cfg.Split.RoundUp))
	}

	// ── Output ──
	if cfg.Output.Base == "" {
		return invalid("output.base is required")
	}
	if !naming.Valid(cfg.Output.FilenameMode) {
		return invalid(fmt.Sprintf("unknown output.filename_mode %q (must be one of %s)",
			cfg.Output.FilenameMode, strings.Join(naming.Modes, "/")))
	}

	// ── Transport ──
	switch cfg.Transport.Name {
	case sink.NullName, sink.FileName:
	case sink.PipeName:
		if len(cfg.Transport.Write) == 0 {
			return invalid("transport.write is required for the pipe transport")
		}
	default:
		return invalid(fmt.Sprintf("unknown transport.name %q", cfg.Transport.Name))
	}

	// ── Engine ──
	if cfg.Engine.Chomp > MaxChomp {
		return invalid(fmt.Sprintf("engine.chomp %d exceeds %d", cfg.Engine.Chomp, MaxChomp))
	}
	if cfg.Engine.ProgressInterval == 0 {
		cfg.Engine.ProgressInterval = 1000000
	}
	if cfg.Engine.PollInterval <= 0 {
		cfg.Engine.PollInterval = time.Millisecond
	}

	// ── Input ──
	if cfg.Input.Path == "" && cfg.Input.Ring == "" {
		cfg.Input.Path = "-"
	}

	// ── Log ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid(fmt.Sprintf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level))
	}

	// ── Hooks ──
	if cfg.Hooks.Kafka.Enabled {
		if len(cfg.Hooks.Kafka.Brokers) == 0 {
			return invalid("hooks.kafka.brokers is required when hooks.kafka.enabled=true")
		}
		if cfg.Hooks.Kafka.Topic == "" {
			return invalid("hooks.kafka.topic is required when hooks.kafka.enabled=true")
		}
	}

	// ── Timezone ──
	tz := cfg.Timezone
	if tz == "" {
		tz = "Local"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return invalid(fmt.Sprintf("unknown timezone %q: %v", tz, err))
	}
	cfg.loc = loc

	return nil
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, msg)
}

// Location returns the resolved timezone used for alignment and file names.
func (cfg *Config) Location() *time.Location {
	if cfg.loc == nil {
		return time.Local
	}
	return cfg.loc
}

// SplitPolicy returns the split package configuration.
func (cfg *Config) SplitPolicy() split.Config {
	return split.Config{
		Mode:           cfg.Split.Mode,
		Bytes:          uint64(cfg.Split.Bytes),
		Window:         cfg.Split.Time,
		RoundUp:        cfg.Split.RoundUp,
		Align:          cfg.Split.Align,
		Location:       cfg.Location(),
		MaxSuppressLog: cfg.Split.MaxSuppressLog,
	}
}
