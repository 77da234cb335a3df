// Package config loads the supervisor's TOML configuration file per §6's
// "Config file" contract: one table per backend id, unknown keys ignored,
// a fixed ordered candidate path set with legacy-location migration.
//
// Grounded on: original_source/src/takopi/config.py
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/classicrob/takopi-go/internal/apperrors"
)

const (
	localConfigName  = ".takopi/takopi.toml"
	legacyLocalName  = ".codex/takopi.toml"
	homeConfigSuffix = ".takopi/takopi.toml"
	legacyHomeSuffix = ".codex/takopi.toml"
)

// BackendConfig is one backend id's table; unknown keys are preserved in
// Extra so a backend-specific loader can re-decode only the fields it
// cares about.
type BackendConfig struct {
	Command string         `toml:"command"`
	Args    []string       `toml:"args"`
	Extra   map[string]any `toml:"-"`
}

// Config is the fully-parsed takopi.toml: one table per backend id plus
// the top-level [liaison] table. Every other top-level table is read as a
// backend table.
type Config struct {
	Backends   map[string]BackendConfig `toml:"-"`
	Liaison    LiaisonConfig            `toml:"liaison"`
	Path       string                   `toml:"-"`
}

// LiaisonConfig configures the §4.4 liaison runner.
type LiaisonConfig struct {
	CaptainChair       bool    `toml:"captain_chair"`
	PollIntervalS      float64 `toml:"poll_interval_s"`
	CaptureLines       int     `toml:"capture_lines"`
	CoordinationFolder string  `toml:"coordination_folder"`
}

func configCandidates(cwd, home string) []string {
	local := filepath.Join(cwd, localConfigName)
	homeCfg := filepath.Join(home, homeConfigSuffix)
	if local == homeCfg {
		return []string{local}
	}
	return []string{local, homeCfg}
}

func legacyCandidates(cwd, home string) []string {
	local := filepath.Join(cwd, legacyLocalName)
	homeCfg := filepath.Join(home, legacyHomeSuffix)
	if local == homeCfg {
		return []string{local}
	}
	return []string{local, homeCfg}
}

func maybeMigrateLegacy(legacyPath, targetPath string) error {
	if info, err := os.Stat(targetPath); err == nil {
		if info.IsDir() {
			return apperrors.NewConfigError(fmt.Sprintf("config path %s exists but is not a file", targetPath))
		}
		return nil
	}
	legacyInfo, err := os.Stat(legacyPath)
	if err != nil || legacyInfo.IsDir() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("failed to migrate legacy config %s to %s: %v", legacyPath, targetPath, err))
	}
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("failed to migrate legacy config %s to %s: %v", legacyPath, targetPath, err))
	}
	if err := os.WriteFile(targetPath, data, 0o644); err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("failed to migrate legacy config %s to %s: %v", legacyPath, targetPath, err))
	}
	_ = os.Remove(legacyPath)
	return nil
}

func readConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, apperrors.NewConfigError(fmt.Sprintf("missing config file %s", path))
		}
		return Config{}, apperrors.NewConfigError(fmt.Sprintf("failed to read config file %s: %v", path, err))
	}

	var tree map[string]toml.Primitive
	meta, err := toml.Decode(string(raw), &tree)
	if err != nil {
		return Config{}, apperrors.NewConfigError(fmt.Sprintf("malformed TOML in %s: %v", path, err))
	}

	cfg := Config{Backends: make(map[string]BackendConfig), Path: path}
	for key, prim := range tree {
		if key == "liaison" {
			if err := meta.PrimitiveDecode(prim, &cfg.Liaison); err != nil {
				return Config{}, apperrors.NewConfigError(fmt.Sprintf("malformed [liaison] table in %s: %v", path, err))
			}
			continue
		}
		var bc BackendConfig
		if err := meta.PrimitiveDecode(prim, &bc); err != nil {
			return Config{}, apperrors.NewConfigError(fmt.Sprintf("malformed [%s] table in %s: %v", key, path, err))
		}
		var extra map[string]any
		if err := meta.PrimitiveDecode(prim, &extra); err == nil {
			delete(extra, "command")
			delete(extra, "args")
			if len(extra) > 0 {
				bc.Extra = extra
			}
		}
		cfg.Backends[key] = bc
	}
	return cfg, nil
}

// Load resolves and parses the supervisor's config file. If path is
// non-empty it is used directly (no candidate search, no migration).
// Otherwise the fixed candidate set {local, home} is checked, migrating a
// legacy {cwd}/.codex/takopi.toml or ~/.codex/takopi.toml into the
// corresponding current-target path first if the target does not exist.
func Load(path string) (Config, error) {
	if path != "" {
		return readConfig(path)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, apperrors.NewConfigError(fmt.Sprintf("cannot determine working directory: %v", err))
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, apperrors.NewConfigError(fmt.Sprintf("cannot determine home directory: %v", err))
	}

	candidates := configCandidates(cwd, home)
	legacies := legacyCandidates(cwd, home)
	for i := range candidates {
		if i < len(legacies) {
			if err := maybeMigrateLegacy(legacies[i], candidates[i]); err != nil {
				return Config{}, err
			}
		}
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return readConfig(c)
		}
	}
	for _, c := range legacies {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return readConfig(c)
		}
	}

	checked := dedupe(append(append([]string{}, candidates...), legacies...))
	return Config{}, apperrors.NewConfigError(fmt.Sprintf("missing takopi config. Checked: %s", strings.Join(checked, ", ")))
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
