// Package config loads the environment's tunables: dispatcher pool
// sizing, timer resolution, and the diagnostics/tracer adapters' listen
// addresses. Grounded on the teacher's cmd/cmd.go, which reads a
// --config_file flag and hands it to config.LoadConfig before building
// the fx app; here LoadConfig itself does the spf13/viper + spf13/pflag
// wiring the teacher's trimmed-down copy left implicit.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of values an operator can tune without
// recompiling.
type Config struct {
	Dispatchers DispatchersConfig `mapstructure:"dispatchers"`
	Timer       TimerConfig       `mapstructure:"timer"`
	Diag        DiagConfig        `mapstructure:"diag"`
	LiveTrace   LiveTraceConfig   `mapstructure:"live_trace"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	LogLevel    string            `mapstructure:"log_level"`
}

// DispatchersConfig sizes the thread-pool family's worker count and
// fairness window; the other three families spawn threads lazily and
// need no pool size.
type DispatchersConfig struct {
	ThreadPoolWorkers        int `mapstructure:"thread_pool_workers"`
	ThreadPoolMaxDemandsOnce int `mapstructure:"thread_pool_max_demands_at_once"`
}

// TimerConfig controls the timer service's tick resolution (§5).
type TimerConfig struct {
	Resolution time.Duration `mapstructure:"resolution"`
}

// DiagConfig controls the read-only HTTP introspection server.
type DiagConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LiveTraceConfig controls the websocket tracer-sink server.
type LiveTraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("dispatchers.thread_pool_workers", 8)
	v.SetDefault("dispatchers.thread_pool_max_demands_at_once", 4)
	v.SetDefault("timer.resolution", time.Millisecond)
	v.SetDefault("diag.enabled", true)
	v.SetDefault("diag.addr", ":9190")
	v.SetDefault("live_trace.enabled", false)
	v.SetDefault("live_trace.addr", ":9191")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9192")
	v.SetDefault("metrics.poll_interval", time.Second)
	v.SetDefault("log_level", "info")
}

// LoadConfig reads configFile (if non-empty), overlays AGENTFLOW_*
// environment variables, and overlays any flags bound to fs, then
// unmarshals the result into a Config.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("AGENTFLOW")
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
