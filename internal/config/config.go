package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/roomledger/internal/telemetry"
	"github.com/rzbill/roomledger/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Stream     StreamConfig     `json:"stream" yaml:"stream"`
	Reconcile  ReconcileConfig  `json:"reconcile" yaml:"reconcile"`
	DeadLetter DeadLetterConfig `json:"deadLetter" yaml:"deadLetter" envconfig:"DEAD_LETTER"`
	Retention  RetentionConfig  `json:"retention" yaml:"retention"`
	HTTP       ServerConfig     `json:"http" yaml:"http"`
	GRPC       ServerConfig     `json:"grpc" yaml:"grpc"`
	Log        log.Config       `json:"log" yaml:"log"`
	Telemetry  telemetry.Config `json:"telemetry" yaml:"telemetry"`
}

// StorageConfig selects where ledgers, logs and bookings live.
type StorageConfig struct {
	// Backend of the availability and dedup ledgers: pebble or sqlite. The
	// event log and bookings always live in Pebble.
	Backend       string   `json:"backend" yaml:"backend"`
	DataDir       string   `json:"dataDir" yaml:"dataDir" split_words:"true"`
	Fsync         string   `json:"fsync" yaml:"fsync"`
	FsyncInterval Duration `json:"fsyncInterval" yaml:"fsyncInterval" split_words:"true"`
	// SQLitePath defaults to <dataDir>/ledger.db.
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath" envconfig:"SQLITE_PATH"`
}

// StreamConfig describes the booking event log and this consumer's place in it.
type StreamConfig struct {
	Backend     string     `json:"backend" yaml:"backend"`
	Name        string     `json:"name" yaml:"name"`
	Partitions  int        `json:"partitions" yaml:"partitions"`
	Group       string     `json:"group" yaml:"group"`
	Consumer    string     `json:"consumer" yaml:"consumer"`
	Start       string     `json:"start" yaml:"start"`
	PollTimeout Duration   `json:"pollTimeout" yaml:"pollTimeout" split_words:"true"`
	BatchSize   int        `json:"batchSize" yaml:"batchSize" split_words:"true"`
	ClaimIdle   Duration   `json:"claimIdle" yaml:"claimIdle" split_words:"true"`
	AMQP        AMQPConfig `json:"amqp" yaml:"amqp"`
}

type AMQPConfig struct {
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Queue    string `json:"queue" yaml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

type ReconcileConfig struct {
	DefaultCapacity int           `json:"defaultCapacity" yaml:"defaultCapacity" split_words:"true"`
	MaxAttempts     int           `json:"maxAttempts" yaml:"maxAttempts" split_words:"true"`
	Backoff         BackoffConfig `json:"backoff" yaml:"backoff"`
	// Filter is an optional CEL expression over roomId, startDate, endDate,
	// eventType, nights and bookingId.
	Filter  string   `json:"filter" yaml:"filter"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type BackoffConfig struct {
	Type   string   `json:"type" yaml:"type"`
	Base   Duration `json:"base" yaml:"base"`
	Cap    Duration `json:"cap" yaml:"cap"`
	Factor float64  `json:"factor" yaml:"factor"`
}

type DeadLetterConfig struct {
	// MaxDeliveries of 0 never dead-letters reconciliation failures.
	MaxDeliveries int `json:"maxDeliveries" yaml:"maxDeliveries" split_words:"true"`
}

type RetentionConfig struct {
	DedupWindow   Duration `json:"dedupWindow" yaml:"dedupWindow" split_words:"true"`
	SweepInterval Duration `json:"sweepInterval" yaml:"sweepInterval" split_words:"true"`
	// LogRetention of 0 keeps the event log forever.
	LogRetention Duration `json:"logRetention" yaml:"logRetention" split_words:"true"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend:       "pebble",
			DataDir:       DefaultDataDir(),
			Fsync:         "always",
			FsyncInterval: Duration(5 * time.Millisecond),
		},
		Stream: StreamConfig{
			Backend:     "pebble",
			Name:        "booking-events",
			Partitions:  4,
			Group:       "availability",
			Start:       "latest",
			PollTimeout: Duration(250 * time.Millisecond),
			BatchSize:   16,
			ClaimIdle:   Duration(60 * time.Second),
			AMQP:        AMQPConfig{Exchange: "bookings", Prefetch: 32},
		},
		Reconcile: ReconcileConfig{
			DefaultCapacity: 5,
			MaxAttempts:     3,
			Backoff: BackoffConfig{
				Type:   "exp-jitter",
				Base:   Duration(5 * time.Millisecond),
				Cap:    Duration(50 * time.Millisecond),
				Factor: 2,
			},
			Timeout: Duration(30 * time.Second),
		},
		DeadLetter: DeadLetterConfig{MaxDeliveries: 10},
		Retention: RetentionConfig{
			DedupWindow:   Duration(7 * 24 * time.Hour),
			SweepInterval: Duration(time.Hour),
			LogRetention:  Duration(14 * 24 * time.Hour),
		},
		HTTP:      ServerConfig{Addr: ":8080"},
		GRPC:      ServerConfig{Addr: ":50051"},
		Log:       log.Config{Level: "info", Format: "text", Output: "stderr"},
		Telemetry: telemetry.Config{ServiceName: "roomledger", Insecure: true},
	}
}

// Load reads configuration from a JSON or YAML file (by extension) on top of
// the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case "pebble", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown %q", c.Storage.Backend))
	}
	switch c.Stream.Backend {
	case "pebble":
	case "amqp":
		if c.Stream.AMQP.URL == "" {
			errs = append(errs, errors.New("stream.amqp.url: required for the amqp backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("stream.backend: unknown %q", c.Stream.Backend))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.dataDir: required"))
	}
	if c.Stream.Name == "" || c.Stream.Group == "" {
		errs = append(errs, errors.New("stream.name and stream.group: required"))
	}
	if c.Stream.Partitions <= 0 {
		errs = append(errs, errors.New("stream.partitions: must be positive"))
	}
	if c.Reconcile.MaxAttempts <= 0 {
		errs = append(errs, errors.New("reconcile.maxAttempts: must be positive"))
	}
	// A pebble stream redelivers entries idle for claimIdle; a shorter window
	// would hand a message to a peer while it is still being reconciled.
	if c.Stream.Backend == "pebble" && c.Reconcile.Timeout > 0 && c.Stream.ClaimIdle <= c.Reconcile.Timeout {
		errs = append(errs, errors.New("stream.claimIdle: must exceed reconcile.timeout"))
	}
	if c.Reconcile.DefaultCapacity < 0 {
		errs = append(errs, errors.New("reconcile.defaultCapacity: must not be negative"))
	}
	if c.Retention.LogRetention > 0 && c.Retention.LogRetention < c.Retention.DedupWindow {
		errs = append(errs, errors.New("retention.logRetention: must not be shorter than retention.dedupWindow"))
	}
	return errors.Join(errs...)
}

// SQLiteFile returns the configured SQLite file or the default inside DataDir.
func (c StorageConfig) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "ledger.db")
}
