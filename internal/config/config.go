// Package config loads the process-wide settings spec §6 names: the
// hosting-platform token, the operator shared secret, the package-count
// baseline cursor, and an optional ignore list. Environment variables are
// authoritative; an optional TOML file fills in anything the environment
// leaves unset, for local development.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/MartinSStewart/elm-review-bot/internal/elm"
)

const (
	envToken      = "ELM_REVIEW_BOT_TOKEN"
	envSecret     = "ELM_REVIEW_BOT_OPERATOR_SECRET"
	envBaseline   = "ELM_REVIEW_BOT_BASELINE"
	envIgnoreList = "ELM_REVIEW_BOT_IGNORE_LIST"
)

// Config is the plain struct-plus-loader shape the teacher uses for its
// client options (core.DefaultClient, functional Options): every field is
// exported and directly settable, with Load doing the one-time work of
// populating it from the environment and an optional file.
type Config struct {
	// Token authenticates against the hosting platform's API (C5, C8).
	Token string
	// OperatorSecret is the shared secret C10's LoginRequest compares
	// against in constant time.
	OperatorSecret string
	// Baseline is the packageCountOffset the index poller (C1) starts
	// from on a fresh BackendState.
	Baseline int
	// IgnoreList is the set of package names the scheduler (C4) never
	// dispatches, spec §4.4's "reserved prefix or ignore list".
	IgnoreList []string
}

// fileConfig mirrors Config's shape for TOML decoding; its fields are plain
// values, so an empty value in the file is treated the same as an absent
// one.
type fileConfig struct {
	Token          string   `toml:"token"`
	OperatorSecret string   `toml:"operator_secret"`
	Baseline       string   `toml:"baseline"`
	IgnoreList     []string `toml:"ignore_list"`
}

// Load builds a Config from the environment, optionally falling back to
// the TOML file at path for any field the environment left unset. An
// empty path skips the file entirely. Missing token or operator secret
// after both sources are consulted is the one fatal startup condition
// spec §7 documents.
func Load(path string) (Config, error) {
	var file fileConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	cfg := Config{
		Token:          firstNonEmpty(os.Getenv(envToken), file.Token),
		OperatorSecret: firstNonEmpty(os.Getenv(envSecret), file.OperatorSecret),
	}

	if cfg.Token == "" {
		return Config{}, fmt.Errorf("config: %s is required", envToken)
	}
	if cfg.OperatorSecret == "" {
		return Config{}, fmt.Errorf("config: %s is required", envSecret)
	}

	baselineStr := firstNonEmpty(os.Getenv(envBaseline), file.Baseline)
	if baselineStr != "" {
		baseline, err := elm.ParseCursor(baselineStr)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		cfg.Baseline = baseline
	}

	if raw := os.Getenv(envIgnoreList); raw != "" {
		cfg.IgnoreList = splitIgnoreList(raw)
	} else {
		cfg.IgnoreList = file.IgnoreList
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitIgnoreList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
