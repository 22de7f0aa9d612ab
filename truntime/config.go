package truntime

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shirou/gopsutil/v3/cpu"
)

// CrashPolicy decides what happens when a pool context crashes. The
// source behavior had no recovery at all, so this is an explicit choice:
// respawn the context (default) or fail the whole pool closed. In-flight
// requests are never resubmitted either way.
type CrashPolicy string

const (
	CrashRespawn    CrashPolicy = "respawn"
	CrashFailClosed CrashPolicy = "fail"
)

// Config carries the session-level knobs. All fields are overridable
// through TMAP_-prefixed environment variables.
type Config struct {
	SideLength     int           `env:"GRID_SIDE" envDefault:"512"`
	FlushInterval  time.Duration `env:"FLUSH_INTERVAL" envDefault:"50ms"`
	PoolSize       int           `env:"POOL_SIZE" envDefault:"0"` // 0 = derive from logical CPU count
	RetryAttempts  int           `env:"DISPATCH_RETRY_ATTEMPTS" envDefault:"20"`
	RetryDelay     time.Duration `env:"DISPATCH_RETRY_DELAY" envDefault:"100ms"`
	BorderCacheCap int           `env:"BORDER_CACHE_CAP" envDefault:"100"`
	ZOCRadius      int           `env:"ZOC_RADIUS" envDefault:"5"`
	CrashPolicy    CrashPolicy   `env:"WORKER_CRASH_POLICY" envDefault:"respawn"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TMAP_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.CrashPolicy != CrashRespawn && cfg.CrashPolicy != CrashFailClosed {
		return Config{}, fmt.Errorf("unknown worker crash policy %q", cfg.CrashPolicy)
	}
	return cfg, nil
}

// DefaultConfig returns the built-in defaults without touching the
// environment. Used by tests and embedders.
func DefaultConfig() Config {
	return Config{
		SideLength:     512,
		FlushInterval:  50 * time.Millisecond,
		RetryAttempts:  20,
		RetryDelay:     100 * time.Millisecond,
		BorderCacheCap: 100,
		ZOCRadius:      5,
		CrashPolicy:    CrashRespawn,
	}
}

// poolSize resolves the number of pool contexts: the configured override,
// or max(1, logicalCPUs-1) leaving one core to the controlling context.
func (c Config) poolSize() int {
	if c.PoolSize > 0 {
		return c.PoolSize
	}
	logical, err := cpu.Counts(true)
	if err != nil || logical <= 0 {
		logical = runtime.NumCPU()
	}
	return max(1, logical-1)
}
