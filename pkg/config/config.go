// Package config manages the daemon's YAML configuration file under the
// OpenCLI home directory (~/.opencli by default, OPENCLI_HOME to override).
//
// The file is free-form YAML owned by the user and by clients posting to the
// config API. The manager only guarantees three behaviours: ${ENV_VAR}
// expansion on read, deep merge on update, and API-key masking for values
// that leave the process.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// HomeDir returns the OpenCLI home directory, creating it when missing.
func HomeDir() (string, error) {
	if dir := os.Getenv("OPENCLI_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create opencli home: %w", err)
		}
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".opencli")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create opencli home: %w", err)
	}
	return dir, nil
}

// Manager loads and stores the daemon configuration file.
type Manager struct {
	dir    string
	path   string
	logger *slog.Logger
}

// NewManager returns a manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:    dir,
		path:   filepath.Join(dir, "config.yaml"),
		logger: slog.With("component", "config"),
	}
}

// Dir returns the OpenCLI home directory this manager is rooted at.
func (m *Manager) Dir() string { return m.dir }

// Path returns the config file path.
func (m *Manager) Path() string { return m.path }

// Load reads the configuration with ${ENV_VAR} references expanded. A
// missing file is an empty configuration, not an error.
func (m *Manager) Load() (map[string]any, error) {
	return m.load(true)
}

// LoadRaw reads the configuration without environment expansion, preserving
// ${ENV_VAR} placeholders. Used when the config is edited and re-saved so
// secrets never get baked into the file.
func (m *Manager) LoadRaw() (map[string]any, error) {
	return m.load(false)
}

func (m *Manager) load(expand bool) (map[string]any, error) {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if expand {
		data = ExpandEnv(data)
	}
	cfg := map[string]any{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// Save writes cfg atomically (temp file + rename).
func (m *Manager) Save(cfg map[string]any) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp, err := os.CreateTemp(m.dir, ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	m.logger.Info("Configuration saved", "path", m.path)
	return nil
}

// Merge deep-merges updates into the stored configuration and saves the
// result. Nested maps merge key-by-key; everything else is replaced.
func (m *Manager) Merge(updates map[string]any) (map[string]any, error) {
	cfg, err := m.LoadRaw()
	if err != nil {
		return nil, err
	}
	merged := DeepMerge(cfg, updates)
	if err := m.Save(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// DeepMerge merges overlay into base recursively and returns a new map.
// Maps merge per key; any other value in overlay replaces the base value.
func DeepMerge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		bv, haveBase := out[k]
		bm, baseIsMap := toStringMap(bv)
		om, overlayIsMap := toStringMap(v)
		if haveBase && baseIsMap && overlayIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}

// GetNested resolves a dot-separated path ("inference.remote_url") inside a
// nested config map.
func GetNested(cfg map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = cfg
	for _, p := range parts {
		m, ok := toStringMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves a dot-separated path to a string, with a default.
func GetString(cfg map[string]any, path, fallback string) string {
	v, ok := GetNested(cfg, path)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}

// toStringMap normalizes the two map shapes YAML decoding can produce.
func toStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, vv := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = vv
		}
		return out, true
	default:
		return nil, false
	}
}
