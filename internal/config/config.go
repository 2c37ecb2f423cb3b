// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the engine's startup configuration from the
// environment, per spec §6. The engine's configuration surface is
// intentionally small: eight variables, no config file, no HCL.
package config

import (
	"os"
	"strconv"
	"time"

	"grimm.is/ngfw/internal/errors"
)

// Config is the engine's fully resolved startup configuration.
type Config struct {
	Interface       string
	ModelPath       string
	Threshold       float64
	InactiveTimeout time.Duration
	ActiveTimeout   time.Duration
	BlockTTL        time.Duration
	MaxFlows        int
	QueueSize       int
}

// DefaultConfig returns the engine's defaults for every variable that has
// one. Interface and ModelPath have no default: they are required.
func DefaultConfig() Config {
	return Config{
		Threshold:       -0.2,
		InactiveTimeout: 15 * time.Second,
		ActiveTimeout:   1800 * time.Second,
		BlockTTL:        60 * time.Minute,
		MaxFlows:        100_000,
		QueueSize:       1024,
	}
}

// Load reads NGFW_* environment variables into a Config, applying defaults
// for anything unset and validating the two required fields.
func Load() (Config, error) {
	cfg := DefaultConfig()

	cfg.Interface = os.Getenv("NGFW_INTERFACE")
	if cfg.Interface == "" {
		return Config{}, errors.New(errors.KindValidation, "NGFW_INTERFACE is required")
	}

	cfg.ModelPath = os.Getenv("NGFW_MODEL_PATH")
	if cfg.ModelPath == "" {
		return Config{}, errors.New(errors.KindValidation, "NGFW_MODEL_PATH is required")
	}

	if v, ok := os.LookupEnv("NGFW_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.KindValidation, "invalid NGFW_THRESHOLD")
		}
		cfg.Threshold = f
	}

	if v, ok := os.LookupEnv("NGFW_INACTIVE_TIMEOUT_S"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.KindValidation, "invalid NGFW_INACTIVE_TIMEOUT_S")
		}
		cfg.InactiveTimeout = time.Duration(secs) * time.Second
	}

	if v, ok := os.LookupEnv("NGFW_ACTIVE_TIMEOUT_S"); ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.KindValidation, "invalid NGFW_ACTIVE_TIMEOUT_S")
		}
		cfg.ActiveTimeout = time.Duration(secs) * time.Second
	}

	if v, ok := os.LookupEnv("NGFW_BLOCK_TTL_MINUTES"); ok {
		mins, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.KindValidation, "invalid NGFW_BLOCK_TTL_MINUTES")
		}
		cfg.BlockTTL = time.Duration(mins) * time.Minute
	}

	if v, ok := os.LookupEnv("NGFW_MAX_FLOWS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.KindValidation, "invalid NGFW_MAX_FLOWS")
		}
		cfg.MaxFlows = n
	}

	if v, ok := os.LookupEnv("NGFW_QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, errors.KindValidation, "invalid NGFW_QUEUE_SIZE")
		}
		cfg.QueueSize = n
	}

	return cfg, nil
}
