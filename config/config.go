// Package config loads the OpenDLP daemon configuration with Viper.
// Precedence (lowest to highest): defaults < config file < OPENDLP_*
// environment variables.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration
type Config struct {
	Database   Database            `mapstructure:"database"`
	Server     Server              `mapstructure:"server"`
	Selection  Selection           `mapstructure:"selection"`
	Assemblies map[string]Assembly `mapstructure:"assemblies"`
}

// Database configures the SQLite database
type Database struct {
	Path string `mapstructure:"path"`
}

// Server configures the HTTP API
type Server struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// Selection configures the async selection machinery
type Selection struct {
	Workers               int    `mapstructure:"workers"`                 // concurrent job workers (default: 1)
	TickerIntervalSeconds int    `mapstructure:"ticker_interval_seconds"` // worker poll interval (default: 1)
	SweepIntervalSeconds  int    `mapstructure:"sweep_interval_seconds"`  // health sweep interval (default: 60)
	SubmitGraceSeconds    int    `mapstructure:"submit_grace_seconds"`    // unacknowledged-run grace window (default: 120)
	SourceBaseDir         string `mapstructure:"source_base_dir"`         // directory holding the CSV sources
}

// Assembly is one configured citizen assembly. The map key in
// Config.Assemblies is the assembly id.
type Assembly struct {
	Name      string             `mapstructure:"name"`
	Managers  []string           `mapstructure:"managers"` // user ids allowed to run selections; "*" allows everyone
	Selection *AssemblySelection `mapstructure:"selection"`
}

// AssemblySelection is an assembly's selection settings. Absent means
// selection is not configured for the assembly.
type AssemblySelection struct {
	SourceID         string   `mapstructure:"source_id"`
	ServiceAccount   string   `mapstructure:"service_account"`
	IDColumn         string   `mapstructure:"id_column"`
	CheckSameAddress bool     `mapstructure:"check_same_address"`
	AddressColumns   []string `mapstructure:"address_columns"`
	ColumnsToKeep    []string `mapstructure:"columns_to_keep"`
	Algorithm        string   `mapstructure:"algorithm"`
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "opendlp.db")

	v.SetDefault("server.port", 8710)
	v.SetDefault("server.shutdown_timeout_seconds", 10)

	v.SetDefault("selection.workers", 1)
	v.SetDefault("selection.ticker_interval_seconds", 1)
	v.SetDefault("selection.sweep_interval_seconds", 60)
	v.SetDefault("selection.submit_grace_seconds", 120)
	v.SetDefault("selection.source_base_dir", "sources")
}

// SweepInterval returns the health sweep interval as a duration
func (s Selection) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// SubmitGrace returns the unacknowledged-run grace window as a duration
func (s Selection) SubmitGrace() time.Duration {
	return time.Duration(s.SubmitGraceSeconds) * time.Second
}

// TickerInterval returns the worker poll interval as a duration
func (s Selection) TickerInterval() time.Duration {
	return time.Duration(s.TickerIntervalSeconds) * time.Second
}
