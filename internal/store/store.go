package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/kokistudios/modelstamp/internal/alias"
)

// File names under OPENCLAW_HOME.
const (
	ConfigFile     = "modelstamp.json"
	HostConfigFile = "openclaw.json"
	BackupDir      = "backups"
)

// ConfigError reports an alias config that cannot be used. It is raised
// before anything is written.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Issue represents a health check finding.
type Issue struct {
	Severity string // "warning" or "error"
	Message  string
}

// Home returns the host's state directory, respecting OPENCLAW_HOME.
func Home() string {
	if h := os.Getenv("OPENCLAW_HOME"); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".openclaw")
	}
	return filepath.Join(home, ".openclaw")
}

// ConfigPath returns the alias config path: MODELSTAMP_CONFIG, else
// modelstamp.json under home.
func ConfigPath(home string) string {
	if p := os.Getenv("MODELSTAMP_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(home, ConfigFile)
}

// HostConfigPath returns the host config path: OPENCLAW_JSON, else
// openclaw.json under home.
func HostConfigPath(home string) string {
	if p := os.Getenv("OPENCLAW_JSON"); p != "" {
		return p
	}
	return filepath.Join(home, HostConfigFile)
}

// Loaded is an alias config as read from disk.
type Loaded struct {
	Path   string
	Exists bool
	// Custom is the file content alone, without built-ins.
	Custom alias.Config
	// Merged is Custom layered over the built-in tables.
	Merged alias.Config
}

// LoadConfig reads the alias config at path. A missing file yields the
// built-in defaults. JSON files may contain comments and trailing commas;
// .yaml and .yml files are read as YAML.
func LoadConfig(path string) (*Loaded, error) {
	l := &Loaded{Path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.Merged = alias.DefaultConfig()
		return l, nil
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	l.Exists = true

	if err := decodeConfig(path, data, &l.Custom); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if err := validateTemplate(l.Custom.ResponsePrefixTemplate); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	l.Merged = alias.Merge(alias.DefaultConfig(), l.Custom)
	return l, nil
}

// ErrBlankTemplate is returned for a response_prefix_template that renders
// nothing. An unset template falls back to the default instead.
var ErrBlankTemplate = errors.New("response_prefix_template is blank")

func validateTemplate(template string) error {
	if template == "" {
		return nil
	}
	body := strings.TrimPrefix(strings.TrimSpace(template), alias.AppendModePrefix)
	if strings.TrimSpace(body) == "" {
		return ErrBlankTemplate
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeConfig(path string, data []byte, cfg *alias.Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	return json.Unmarshal(jsonc.ToJSON(data), cfg)
}

// EncodeConfig renders cfg in the format implied by path.
func EncodeConfig(path string, cfg alias.Config) ([]byte, error) {
	if isYAML(path) {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return data, nil
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append(data, '\n'), nil
}

// SaveConfig atomically writes cfg to path, creating parent directories.
func SaveConfig(path string, cfg alias.Config) error {
	data, err := EncodeConfig(path, cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := WriteFileAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Init writes a starter alias config to path. The built-in tables are not
// copied in; the file holds only the template and empty user tables.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	starter := alias.Config{
		ResponsePrefixTemplate: alias.DefaultTemplate,
		ModelAliases:           map[string]string{},
		ProviderAliases:        map[string]string{},
		SourceAliases:          map[string]string{},
	}
	return SaveConfig(path, starter)
}

// CheckHealth reports problems with the alias config and backup directory.
func CheckHealth(home, configPath string) []Issue {
	var issues []Issue

	if info, err := os.Stat(home); err != nil {
		issues = append(issues, Issue{"error", fmt.Sprintf("missing directory: %s", home)})
	} else if !info.IsDir() {
		issues = append(issues, Issue{"error", fmt.Sprintf("expected directory but found file: %s", home)})
	}

	l, err := LoadConfig(configPath)
	switch {
	case err != nil:
		issues = append(issues, Issue{"error", err.Error()})
	case !l.Exists:
		issues = append(issues, Issue{"warning", fmt.Sprintf("no alias config at %s, using built-in tables", configPath)})
	default:
		for _, k := range alias.SortedKeys(l.Custom.ModelAliases) {
			if strings.TrimSpace(l.Custom.ModelAliases[k]) == "" {
				issues = append(issues, Issue{"warning", fmt.Sprintf("model alias %q is empty and is ignored", k)})
			}
		}
	}

	p := filepath.Join(home, BackupDir)
	if info, err := os.Stat(p); err == nil && !info.IsDir() {
		issues = append(issues, Issue{"error", fmt.Sprintf("expected directory but found file: %s", p)})
	}
	return issues
}
