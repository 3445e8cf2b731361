package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Cfg holds the defaults of the command line, loaded from environment variables.
type Cfg struct {
	BatchSize  int     // NERCNN_BATCH_SIZE=100
	Epochs     int     // NERCNN_EPOCHS=5
	KernelSize int     // NERCNN_KERNEL_SIZE=5
	NumFilters int     // NERCNN_FILTERS=8
	Dropout    float64 // NERCNN_DROPOUT=0.5
	L2         float64 // NERCNN_L2=3
	Seed       uint64  // NERCNN_SEED=1
	Optimizer  string  // NERCNN_OPTIMIZER=adadelta

	// EvalLoss is the loss a model is recompiled with for testing.
	EvalLoss string // NERCNN_EVAL_LOSS=mean_squared_error

	// LedgerPath is the SQLite run ledger. Empty disables it.
	LedgerPath string // NERCNN_LEDGER

	// Progress enables terminal progress bars.
	Progress bool // NERCNN_PROGRESS=true
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Cfg {
	return Cfg{
		BatchSize:  100,
		Epochs:     5,
		KernelSize: 5,
		NumFilters: 8,
		Dropout:    0.5,
		L2:         3,
		Seed:       1,
		Optimizer:  "adadelta",
		EvalLoss:   "mean_squared_error",
		Progress:   true,
	}
}

// Load reads .env (if present) then environment variables and returns Cfg.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds Cfg from the process environment only.
func FromEnv() (*Cfg, error) {
	cfg := Defaults()
	var err error
	if cfg.BatchSize, err = envInt("NERCNN_BATCH_SIZE", cfg.BatchSize); err != nil {
		return nil, err
	}
	if cfg.Epochs, err = envInt("NERCNN_EPOCHS", cfg.Epochs); err != nil {
		return nil, err
	}
	if cfg.KernelSize, err = envInt("NERCNN_KERNEL_SIZE", cfg.KernelSize); err != nil {
		return nil, err
	}
	if cfg.NumFilters, err = envInt("NERCNN_FILTERS", cfg.NumFilters); err != nil {
		return nil, err
	}
	if cfg.Dropout, err = envFloat("NERCNN_DROPOUT", cfg.Dropout); err != nil {
		return nil, err
	}
	if cfg.L2, err = envFloat("NERCNN_L2", cfg.L2); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(os.Getenv("NERCNN_SEED")); raw != "" {
		if cfg.Seed, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("NERCNN_SEED: %w", err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("NERCNN_OPTIMIZER")); v != "" {
		cfg.Optimizer = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("NERCNN_EVAL_LOSS")); v != "" {
		cfg.EvalLoss = v
	}
	cfg.LedgerPath = strings.TrimSpace(os.Getenv("NERCNN_LEDGER"))

	if raw := strings.TrimSpace(os.Getenv("NERCNN_PROGRESS")); raw != "" {
		cfg.Progress = raw == "1" || strings.EqualFold(raw, "true")
	}

	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("NERCNN_BATCH_SIZE must not be negative, got %d", cfg.BatchSize)
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("NERCNN_EPOCHS must be positive, got %d", cfg.Epochs)
	}
	return &cfg, nil
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
