// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/plexcord/internal/log"
)

func envLogger() zerolog.Logger { return xglog.WithComponent("config") }

// lookupEnv returns the value of key and whether it was set to something
// non-empty. An empty variable counts as unset.
func lookupEnv(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if ok && strings.TrimSpace(v) == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("environment variable is empty, using default")
		return "", false
	}
	return v, ok
}

// parseEnv reads key with parse, falling back to def when unset or invalid.
// The chosen value and its source are logged; secrets are never logged.
func parseEnv[T any](key string, def T, parse func(string) (T, error)) T {
	logger := envLogger()
	raw, ok := lookupEnv(logger, key)
	if !ok {
		logger.Debug().Str("key", key).Interface("default", def).Str("source", "default").Msg("using default value")
		return def
	}
	v, err := parse(raw)
	if err != nil {
		ev := logger.Warn().Str("key", key).Interface("default", def).Err(err)
		if !isSensitiveKey(key) {
			ev = ev.Str("value", raw)
		}
		ev.Msg("invalid value in environment variable, using default")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Interface("value", v)
	}
	ev.Msg("using environment variable")
	return v
}

// ParseString reads a string from the environment or returns def.
func ParseString(key, def string) string {
	return parseEnv(key, def, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from the environment or returns def.
func ParseInt(key string, def int) int {
	return parseEnv(key, def, func(s string) (int, error) { return strconv.Atoi(strings.TrimSpace(s)) })
}

// ParseFloat reads a float from the environment or returns def.
func ParseFloat(key string, def float64) float64 {
	return parseEnv(key, def, func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	})
}

// ParseBool accepts true/false, 1/0, yes/no and on/off (case-insensitive).
func ParseBool(key string, def bool) bool {
	return parseEnv(key, def, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

// ParseDuration accepts Go durations ("30s", "1m30s") and bare integers,
// which are read as seconds.
func ParseDuration(key string, def time.Duration) time.Duration {
	return parseEnv(key, def, parseDuration)
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative duration: %q", s)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
