// Package appconfig is pgsink's configuration layer: a TOML file overlaid
// with PGSINK_* environment variables, covering DatabaseConfig,
// ReplicationConfig, SnapshotConfig, Server, and Logging in one package.
// Source(postgres) and Sink(union) are separate shapes, since a pgsink
// destination is never PostgreSQL.
package appconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DatabaseConfig holds connection parameters for the source PostgreSQL
// instance being replicated from.
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     uint16 `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname"`
}

// ParseURI parses a PostgreSQL connection URI into DatabaseConfig,
// unconditionally setting each component found in the URI.
func (d *DatabaseConfig) ParseURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid connection URI: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported URI scheme %q (expected postgres or postgresql)", u.Scheme)
	}

	if u.Hostname() != "" {
		d.Host = u.Hostname()
	}
	if u.Port() != "" {
		p, err := strconv.ParseUint(u.Port(), 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port in URI: %w", err)
		}
		d.Port = uint16(p)
	}
	if u.User != nil {
		if username := u.User.Username(); username != "" {
			d.User = username
		}
		if password, ok := u.User.Password(); ok {
			d.Password = password
		}
	}
	if dbname := strings.TrimPrefix(u.Path, "/"); dbname != "" {
		d.DBName = dbname
	}
	return nil
}

// DSN returns a standard PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	return u.String()
}

// ReplicationDSN returns a connection string with replication=database set,
// required for the logical-replication protocol connection (§4.B).
func (d DatabaseConfig) ReplicationDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     d.DBName,
		RawQuery: "replication=database",
	}
	return u.String()
}

// ReplicationConfig holds settings for the WAL replication stream.
type ReplicationConfig struct {
	SlotName     string `toml:"slot_name"`
	Publication  string `toml:"publication"`
	OutputPlugin string `toml:"output_plugin"`
}

// SnapshotConfig holds settings for the initial copy phase.
type SnapshotConfig struct {
	Workers int `toml:"workers"`
}

// SinkKind discriminates which destination backend SinkConfig describes.
type SinkKind string

const (
	SinkStdout   SinkKind = "stdout"
	SinkBigQuery SinkKind = "bigquery"
	SinkDelta    SinkKind = "delta"
)

// StdoutSinkConfig configures the debugging sink (internal/sink/stdoutsink).
type StdoutSinkConfig struct {
	StatePath string `toml:"state_path"`
}

// BigQuerySinkConfig configures internal/sink/bigquerysink.
type BigQuerySinkConfig struct {
	ProjectID string `toml:"project_id"`
	DatasetID string `toml:"dataset_id"`
	SAKeyPath string `toml:"sa_key_path"`
}

// DeltaSinkConfig configures internal/sink/deltasink.
type DeltaSinkConfig struct {
	Path        string `toml:"path"`
	S3Endpoint  string `toml:"s3_endpoint"`
	S3AccessKey string `toml:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key"`
	S3UseSSL    bool   `toml:"s3_use_ssl"`
}

// SinkConfig is a closed union over the supported destinations (§4.D),
// discriminated by Kind; exactly the matching nested struct is meaningful.
type SinkConfig struct {
	Kind     SinkKind           `toml:"kind"`
	Stdout   StdoutSinkConfig   `toml:"stdout"`
	BigQuery BigQuerySinkConfig `toml:"bigquery"`
	Delta    DeltaSinkConfig    `toml:"delta"`
}

// BatchConfig bounds the pipeline batcher's size and age triggers (§4.E).
// MaxFillSeconds is the TOML/env-friendly form of model.BatchConfig.MaxFill.
type BatchConfig struct {
	MaxSize        int `toml:"max_size"`
	MaxFillSeconds int `toml:"max_fill_seconds"`
}

func (b BatchConfig) MaxFill() time.Duration {
	return time.Duration(b.MaxFillSeconds) * time.Second
}

type ServerConfig struct {
	Listen string `toml:"listen"`
	Port   int    `toml:"port"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Config is the top-level configuration for pgsink.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Source      DatabaseConfig    `toml:"source"`
	Replication ReplicationConfig `toml:"replication"`
	Snapshot    SnapshotConfig    `toml:"snapshot"`
	Sink        SinkConfig        `toml:"sink"`
	Batch       BatchConfig       `toml:"batch"`
	Logging     LoggingConfig     `toml:"logging"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen: "127.0.0.1",
			Port:   7654,
		},
		Replication: ReplicationConfig{
			OutputPlugin: "pgoutput",
		},
		Snapshot: SnapshotConfig{
			Workers: 4,
		},
		Sink: SinkConfig{
			Kind: SinkStdout,
		},
		Batch: BatchConfig{
			MaxSize:        1000,
			MaxFillSeconds: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func findConfigFile() string {
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".pgsink", "config.toml"))
	}
	candidates = append(candidates, "/etc/pgsink/config.toml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PGSINK_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("PGSINK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PGSINK_SOURCE_URL"); v != "" {
		_ = cfg.Source.ParseURI(v)
	}
	if v := os.Getenv("PGSINK_SLOT_NAME"); v != "" {
		cfg.Replication.SlotName = v
	}
	if v := os.Getenv("PGSINK_PUBLICATION"); v != "" {
		cfg.Replication.Publication = v
	}
	if v := os.Getenv("PGSINK_SINK_KIND"); v != "" {
		cfg.Sink.Kind = SinkKind(v)
	}
	if v := os.Getenv("PGSINK_BIGQUERY_PROJECT_ID"); v != "" {
		cfg.Sink.BigQuery.ProjectID = v
	}
	if v := os.Getenv("PGSINK_BIGQUERY_DATASET_ID"); v != "" {
		cfg.Sink.BigQuery.DatasetID = v
	}
	if v := os.Getenv("PGSINK_DELTA_PATH"); v != "" {
		cfg.Sink.Delta.Path = v
	}
	if v := os.Getenv("PGSINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PGSINK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks that required fields are present for the selected sink
// kind and applies zero-value defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.Source.Host == "" {
		errs = append(errs, errors.New("source host is required"))
	}
	if c.Source.DBName == "" {
		errs = append(errs, errors.New("source database name is required"))
	}
	if c.Replication.SlotName == "" {
		errs = append(errs, errors.New("replication slot name is required"))
	}
	if c.Replication.Publication == "" {
		errs = append(errs, errors.New("publication name is required"))
	}
	if c.Replication.OutputPlugin == "" {
		c.Replication.OutputPlugin = "pgoutput"
	}
	if c.Snapshot.Workers < 1 {
		c.Snapshot.Workers = 4
	}
	if c.Batch.MaxSize < 1 {
		c.Batch.MaxSize = 1000
	}

	switch c.Sink.Kind {
	case SinkStdout:
	case SinkBigQuery:
		if c.Sink.BigQuery.ProjectID == "" {
			errs = append(errs, errors.New("bigquery sink requires project_id"))
		}
		if c.Sink.BigQuery.DatasetID == "" {
			errs = append(errs, errors.New("bigquery sink requires dataset_id"))
		}
	case SinkDelta:
		if c.Sink.Delta.Path == "" {
			errs = append(errs, errors.New("delta sink requires path"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink kind %q", c.Sink.Kind))
	}

	return errors.Join(errs...)
}
