// Package config reads and writes the global ~/.loopync/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.loopync/config.toml.
type Config struct {
	ServerURL      string `toml:"server_url"`
	UserID         string `toml:"user_id"`
	DefaultSession string `toml:"default_session"`

	Connection Connection `toml:"connection"`
	Typing     Typing     `toml:"typing"`
	Call       Call       `toml:"call"`
	Store      Store      `toml:"store"`
	Notify     Notify     `toml:"notify"`
}

// Connection tunes the reconnect loop and the offline outbound queue.
type Connection struct {
	MaxAttempts   int      `toml:"max_attempts"`
	BaseDelay     duration `toml:"base_delay"`
	MaxDelay      duration `toml:"max_delay"`
	QueueCapacity int      `toml:"queue_capacity"`
}

// Typing tunes local debouncing and remote indicator expiry.
type Typing struct {
	Debounce duration `toml:"debounce"`
	Expiry   duration `toml:"expiry"`
}

// Call tunes the signaling state machine.
type Call struct {
	RingTimeout duration `toml:"ring_timeout"`
}

// Store tunes conversation state reconciliation.
type Store struct {
	ReceiptWindow duration `toml:"receipt_window"`
}

// Notify tunes notice deduplication and pacing.
type Notify struct {
	DedupBucket duration `toml:"dedup_bucket"`
	WarnRate    int      `toml:"warn_rate"`
}

// duration lets TOML carry values like "2s" or "500ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ServerURL:      "https://api.loopync.com",
		DefaultSession: "main",
		Connection: Connection{
			MaxAttempts:   10,
			BaseDelay:     duration{time.Second},
			MaxDelay:      duration{30 * time.Second},
			QueueCapacity: 256,
		},
		Typing: Typing{
			Debounce: duration{2 * time.Second},
			Expiry:   duration{3 * time.Second},
		},
		Call: Call{
			RingTimeout: duration{45 * time.Second},
		},
		Store: Store{
			ReceiptWindow: duration{5 * time.Second},
		},
		Notify: Notify{
			DedupBucket: duration{5 * time.Second},
			WarnRate:    2,
		},
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// Returns defaults and an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return Default(), err
	}
	return cfg, nil
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
