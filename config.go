/*
 * Description: Panorama automation tasks: rule export, SSL decryption exclusions, BGP peer updates and commit job tracking.
 * Filename: config.go
 * Author: Bobby Williams | quipology@gmail.com
 *
 * Copyright (c) 2023
 */
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile  = ".env"
	defaultHost     = "panorama.lab.com"
	defaultUser     = "automation"
	defaultPassword = "mysecretpassword"
)

// Represents the settings shared by every task
type config struct {
	Host         string
	User         string
	Password     string
	APIKey       string
	PollInterval time.Duration
	PollAttempts int

	Ask       bool // prompt for credentials
	Ping      bool // ping the host before connecting
	Insecure  bool // skip certificate verification on raw API calls
	Debug     bool
	LogFormat string
}

// loadConfig reads the .env file (a missing file is fine) and the
// environment. Variables already set in the environment win over the file.
func loadConfig(envFile string) (config, error) {
	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVals = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return config{}, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	get := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v := fileVals[key]; v != "" {
			return v
		}
		return def
	}

	cfg := config{
		Host:         get("PANURL", defaultHost),
		User:         get("PANUSER", defaultUser),
		Password:     get("PANPASS", defaultPassword),
		APIKey:       get("PANKEY", ""),
		PollInterval: defaultPollInterval,
		PollAttempts: defaultPollAttempts,
		Insecure:     true,
		LogFormat:    "text",
	}
	if v := get("PANPOLL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return config{}, fmt.Errorf("PANPOLL: invalid poll interval %q", v)
		}
		cfg.PollInterval = d
	}
	if v := get("PANPOLLMAX", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return config{}, fmt.Errorf("PANPOLLMAX: invalid attempt count %q (must be at least 1)", v)
		}
		cfg.PollAttempts = n
	}
	return cfg, nil
}
