// Package config resolves cockpit settings from an optional TOML file and
// the environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variable names.
const (
	EnvRepoURL   = "COCKPIT_REPO_URL"
	EnvBranch    = "COCKPIT_BRANCH"
	EnvOrg       = "COCKPIT_ORG"
	EnvSpriteBin = "COCKPIT_SPRITE_BIN"
	EnvDryRun    = "COCKPIT_DRY_RUN"
	EnvQA        = "COCKPIT_QA"
	EnvQATurn    = "COCKPIT_QA_TURN"
	EnvListen    = "COCKPIT_LISTEN"
	EnvDBPath    = "COCKPIT_DB"
)

// DefaultBranch is cloned when no branch is requested.
const DefaultBranch = "main"

// Config is the resolved cockpit configuration.
type Config struct {
	RepoURL   string
	Branch    string
	Org       string
	SpriteBin string
	DryRun    bool
	QAHelp    bool
	QATurn    bool

	// Web server settings.
	Listen string
	DBPath string
}

type fileConfig struct {
	RepoURL   string `toml:"repo_url"`
	Branch    string `toml:"branch"`
	Org       string `toml:"org"`
	SpriteBin string `toml:"sprite_bin"`
	Listen    string `toml:"listen"`
	DBPath    string `toml:"db_path"`
}

// DefaultPath returns ~/.config/cockpit/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "cockpit", "config.toml")
	}
	return filepath.Join(home, ".config", "cockpit", "config.toml")
}

// Load resolves configuration from the file at path (missing file is fine)
// overlaid with the environment via getenv (nil means os.Getenv).
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	var fc fileConfig
	if path != "" {
		if _, err := toml.DecodeFile(path, &fc); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg := Config{
		RepoURL:   firstNonEmpty(getenv(EnvRepoURL), fc.RepoURL),
		Branch:    firstNonEmpty(getenv(EnvBranch), fc.Branch, DefaultBranch),
		Org:       firstNonEmpty(getenv(EnvOrg), fc.Org),
		SpriteBin: firstNonEmpty(getenv(EnvSpriteBin), fc.SpriteBin),
		DryRun:    boolEnv(getenv(EnvDryRun)),
		QAHelp:    boolEnv(getenv(EnvQA)),
		QATurn:    boolEnv(getenv(EnvQATurn)),
		Listen:    firstNonEmpty(getenv(EnvListen), fc.Listen, "127.0.0.1:8377"),
		DBPath:    firstNonEmpty(getenv(EnvDBPath), fc.DBPath, defaultDBPath()),
	}
	return cfg, nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "share", "cockpit", "sprites.db")
	}
	return filepath.Join(home, ".local", "share", "cockpit", "sprites.db")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func boolEnv(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
