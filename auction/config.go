package auction

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config provides the broker's auction parameters. Every field maps to the
// environment variable named in its comment, as read by ConfigFromEnv.
type Config struct {
	// BatchSize is the number of admitted bids that triggers immediate
	// settlement (N).
	BatchSize int `json:"n"`

	// Timeout is how long after the first bid of a batch settlement is
	// forced (TIMEOUT, milliseconds). Later bids do not extend it.
	Timeout time.Duration `json:"timeout,string"`

	// AccumulateBal is credited to each losing bidder per round
	// (ACCUMULATE_BAL).
	AccumulateBal int64 `json:"accumulate_bal"`

	// StartBal is the balance issued at registration (START_BAL).
	StartBal int64 `json:"start_bal"`

	// MaxBal caps every balance (MAX_BAL).
	MaxBal int64 `json:"max_bal"`

	// AdminToken authorizes the client listing and reset endpoints
	// (ADMIN_TOKEN). Admin routes refuse all requests when empty.
	AdminToken string `json:"-"`
}

// DefaultConfig returns the documented defaults: N=5, TIMEOUT=5000ms,
// ACCUMULATE_BAL=0, START_BAL=10, MAX_BAL=100.
func DefaultConfig() *Config {
	return &Config{
		BatchSize: 5,
		Timeout:   5000 * time.Millisecond,
		StartBal:  10,
		MaxBal:    100,
	}
}

// ConfigFromEnv builds a Config from the environment, starting from the
// defaults.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	var err error
	if cfg.BatchSize, err = envInt("N", cfg.BatchSize); err != nil {
		return nil, err
	}
	timeoutMS, err := envInt("TIMEOUT", int(cfg.Timeout/time.Millisecond))
	if err != nil {
		return nil, err
	}
	cfg.Timeout = time.Duration(timeoutMS) * time.Millisecond

	if cfg.AccumulateBal, err = envInt64("ACCUMULATE_BAL", cfg.AccumulateBal); err != nil {
		return nil, err
	}
	if cfg.StartBal, err = envInt64("START_BAL", cfg.StartBal); err != nil {
		return nil, err
	}
	if cfg.MaxBal, err = envInt64("MAX_BAL", cfg.MaxBal); err != nil {
		return nil, err
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")

	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("N must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("TIMEOUT must be positive, got %s", cfg.Timeout)
	}
	return cfg, nil
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func envInt64(name string, def int64) (int64, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}
