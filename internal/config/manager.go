package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Manager reads and writes the user's persistent config file.
type Manager struct {
	path string
}

// NewManager returns a manager for $UserConfigDir/repowiki/config.json.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return &Manager{path: filepath.Join(configDir, "repowiki", "config.json")}, nil
}

// NewManagerAt returns a manager for an explicit file.
func NewManagerAt(path string) *Manager {
	return &Manager{path: path}
}

// Path returns the absolute path of the config file.
func (m *Manager) Path() string {
	return m.path
}

// Exists reports whether the config file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// read loads the file alone, without defaults or environment.
func (m *Manager) read() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(m.path)
	v.SetConfigType(configType(m.path))
	if !m.Exists() {
		return v, nil
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

// Get returns the value stored in the file for key, and whether it is set.
func (m *Manager) Get(key string) (any, bool, error) {
	v, err := m.read()
	if err != nil {
		return nil, false, err
	}
	if !v.IsSet(key) {
		return nil, false, nil
	}
	return v.Get(key), true, nil
}

// Settings returns every key stored in the file, flattened and sorted.
func (m *Manager) Settings() (map[string]any, []string, error) {
	v, err := m.read()
	if err != nil {
		return nil, nil, err
	}
	keys := v.AllKeys()
	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = v.Get(k)
	}
	return out, keys, nil
}

// Set stores value under key. Only known keys are accepted.
func (m *Manager) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if !IsKnownKey(key) {
		return fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	v, err := m.read()
	if err != nil {
		return err
	}
	v.Set(key, value)
	return m.write(v)
}

// Unset removes key from the file.
func (m *Manager) Unset(key string) error {
	v, err := m.read()
	if err != nil {
		return err
	}
	settings := v.AllSettings()
	if !deleteKey(settings, strings.Split(strings.ToLower(key), ".")) {
		return errors.New("key is not set: " + key)
	}
	fresh := viper.New()
	fresh.SetConfigType(configType(m.path))
	if err := fresh.MergeConfigMap(settings); err != nil {
		return err
	}
	return m.write(fresh)
}

// write persists v with owner-only permissions; the file may hold API keys.
func (m *Manager) write(v *viper.Viper) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := v.WriteConfigAs(m.path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Chmod(m.path, 0o600)
}

func deleteKey(settings map[string]any, path []string) bool {
	if len(path) == 1 {
		if _, ok := settings[path[0]]; !ok {
			return false
		}
		delete(settings, path[0])
		return true
	}
	child, ok := settings[path[0]].(map[string]any)
	if !ok {
		return false
	}
	if !deleteKey(child, path[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(settings, path[0])
	}
	return true
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}
