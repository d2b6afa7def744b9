package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/chatline/internal/engine"
	"github.com/matheus3301/chatline/internal/ingest"
	"github.com/matheus3301/chatline/internal/pager"
	"github.com/matheus3301/chatline/internal/streaming"
	"github.com/matheus3301/chatline/internal/transport"
)

// Config represents the global ~/.chatline/config.toml.
type Config struct {
	DefaultSession string         `toml:"default_session"`
	Timeline       TimelineConfig `toml:"timeline"`
}

// TimelineConfig tunes the per-conversation timeline engine. Zero values
// are replaced by WithDefaults.
type TimelineConfig struct {
	MaxDateGap          Duration `toml:"max_date_gap"`
	PageSize            int      `toml:"page_size"`
	MergeAdjacent       *bool    `toml:"merge_adjacent"`
	BenignSendCodes     []int    `toml:"benign_send_codes"`
	InterruptInterval   Duration `toml:"interrupt_interval"`
	TypingTimeout       Duration `toml:"typing_timeout"`
	ReadReceiptDebounce Duration `toml:"read_receipt_debounce"`
}

// DefaultReadReceiptDebounce coalesces visibility reports before read
// receipts go out.
const DefaultReadReceiptDebounce = 500 * time.Millisecond

// Duration is a time.Duration encoded as a string such as "5m" or "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a config with every timeline setting filled in.
func Default() *Config {
	return &Config{Timeline: TimelineConfig{}.WithDefaults()}
}

// WithDefaults returns a copy of c with unset fields replaced by defaults.
func (c TimelineConfig) WithDefaults() TimelineConfig {
	if c.MaxDateGap.Duration <= 0 {
		c.MaxDateGap.Duration = ingest.DefaultMaxDateGap
	}
	if c.PageSize <= 0 {
		c.PageSize = pager.DefaultPageSize
	}
	if c.MergeAdjacent == nil {
		merge := true
		c.MergeAdjacent = &merge
	}
	if c.BenignSendCodes == nil {
		c.BenignSendCodes = append([]int(nil), transport.DefaultBenignCodes...)
	}
	if c.InterruptInterval.Duration <= 0 {
		c.InterruptInterval.Duration = streaming.DefaultInterruptInterval
	}
	if c.TypingTimeout.Duration <= 0 {
		c.TypingTimeout.Duration = engine.DefaultTypingTimeout
	}
	if c.ReadReceiptDebounce.Duration <= 0 {
		c.ReadReceiptDebounce.Duration = DefaultReadReceiptDebounce
	}
	return c
}

// Merge reports whether adjacent same-sender entries are grouped.
func (c TimelineConfig) Merge() bool {
	return c.MergeAdjacent == nil || *c.MergeAdjacent
}

// Load reads config from the given path. Returns nil config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Timeline = cfg.Timeline.WithDefaults()
	return &cfg, nil
}

// LoadOrDefault reads config from path, falling back to Default when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
