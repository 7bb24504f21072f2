// Package config loads and validates batyrd's configuration surface (spec
// §6): the target-layer list and the server-wide settings. It is an
// external collaborator to the core per spec §1, but is included here so
// the repository is runnable end to end; the core packages only ever see
// the plain Layer/Server structs, never viper itself.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/batyrsync/batyrd/internal/sqlutil"
)

// Layer is the config-provided, read-only synchronization spec for one
// source-to-target mapping (spec §3).
type Layer struct {
	Name              string `mapstructure:"name"`
	Source            string `mapstructure:"source"`
	SourceLayer       string `mapstructure:"source_layer"`
	TargetTableSchema string `mapstructure:"target_table_schema"`
	TargetTableName   string `mapstructure:"target_table_name"`

	// SkipDeleteWithFilter implements the REDESIGN FLAG resolution in
	// spec §9: when true, a job that carries a non-empty filter skips
	// Step 7.3 (delete vanished rows) entirely, since the filter means
	// the source stream is not a full picture of the target's domain.
	SkipDeleteWithFilter bool `mapstructure:"skip_delete"`
}

// EventBus configures the optional job-lifecycle event bus (SPEC_FULL §B.2).
type EventBus struct {
	AMQPURL string `mapstructure:"amqp_url"`
}

// Archive configures the optional job-result object-storage archive
// (SPEC_FULL §B.4).
type Archive struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
}

// Server holds the process-wide settings (spec §6 "Config surface").
type Server struct {
	DBConnectionString      string        `mapstructure:"db_connection_string"`
	AdminDBConnectionString string        `mapstructure:"admin_db_connection_string"`
	HTTPListen              string        `mapstructure:"http_listen"`
	NumWorkers              int           `mapstructure:"num_workers"`
	DBReconnectWait         time.Duration `mapstructure:"db_reconnect_wait_ms"`

	EventBus EventBus `mapstructure:"event_bus"`
	Archive  Archive  `mapstructure:"archive"`

	Layers []Layer `mapstructure:"layers"`
}

// DefaultDBReconnectWait mirrors the original's SERVER_DB_RECONNECT_WAIT
// constant (spec §4.5).
const DefaultDBReconnectWait = 2 * time.Second

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_listen", ":8080")
	v.SetDefault("num_workers", 1)
	v.SetDefault("db_reconnect_wait_ms", DefaultDBReconnectWait.Milliseconds())

	v.BindEnv("db_connection_string", "BATYR_DB_CONNECTION_STRING")
	v.BindEnv("admin_db_connection_string", "BATYR_ADMIN_DB_CONNECTION_STRING")
	v.BindEnv("http_listen", "BATYR_HTTP_LISTEN")
	v.BindEnv("num_workers", "BATYR_NUM_WORKERS")
	v.BindEnv("event_bus.amqp_url", "BATYR_EVENTBUS_AMQP_URL")
	v.BindEnv("archive.endpoint", "BATYR_ARCHIVE_ENDPOINT")
	v.BindEnv("archive.access_key_id", "BATYR_ARCHIVE_ACCESS_KEY_ID")
	v.BindEnv("archive.secret_access_key", "BATYR_ARCHIVE_SECRET_ACCESS_KEY")
	v.BindEnv("archive.bucket", "BATYR_ARCHIVE_BUCKET")

	v.AutomaticEnv()
}

// Load reads the config file at path (if non-empty) plus environment
// overrides, validates it, and returns the parsed Server config.
func Load(path string) (*Server, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %q: %w", path, err)
		}
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	// db_reconnect_wait_ms is a plain count of milliseconds.
	cfg.DBReconnectWait = time.Duration(v.GetInt64("db_reconnect_wait_ms")) * time.Millisecond

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the identifier-safety and uniqueness invariants that must
// hold before any job is ever accepted, per spec §9's "validated at load
// time" design note.
func Validate(cfg *Server) error {
	if cfg.NumWorkers < 1 {
		return fmt.Errorf("num_workers must be >= 1, got %d", cfg.NumWorkers)
	}
	seen := make(map[string]bool, len(cfg.Layers))
	for i, l := range cfg.Layers {
		if l.Name == "" {
			return fmt.Errorf("layers[%d]: name is required", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("layers[%d]: duplicate layer name %q", i, l.Name)
		}
		seen[l.Name] = true
		if !sqlutil.ValidIdentifier(l.Name) {
			return fmt.Errorf("layers[%d]: name %q is not a valid identifier", i, l.Name)
		}

		if l.Source == "" {
			return fmt.Errorf("layer %q: source is required", l.Name)
		}
		if l.SourceLayer == "" {
			return fmt.Errorf("layer %q: source_layer is required", l.Name)
		}
		if !sqlutil.ValidIdentifier(l.TargetTableSchema) {
			return fmt.Errorf("layer %q: target_table_schema %q is not a valid identifier", l.Name, l.TargetTableSchema)
		}
		if !sqlutil.ValidIdentifier(l.TargetTableName) {
			return fmt.Errorf("layer %q: target_table_name %q is not a valid identifier", l.Name, l.TargetTableName)
		}
	}
	return nil
}

// LayerByName looks up a layer by its config name; the second return value
// is false when unknown (used by the HTTP handler to 400 per spec §6).
func (s *Server) LayerByName(name string) (Layer, bool) {
	for _, l := range s.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}
