package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"downsort/internal/errors"
	"downsort/internal/organize"

	"github.com/adrg/xdg"
	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	appName        = "downsort"
	configFileName = "config.yaml"

	defaultWatchDir        = "Downloads"
	defaultSettle          = 2 * time.Second
	defaultWorkers         = 4
	defaultMaxAttempts     = 1
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 30 * time.Second
)

// Config represents the application configuration structure.
// It defines where files arrive, how the watcher behaves and the ordered
// rule list applied to each new file.
type Config struct {
	BaseDir  string       `yaml:"baseDir"`  // Root that relative destinations resolve against
	WatchDir string       `yaml:"watchDir"` // Directory to watch, relative to BaseDir
	Settings Settings     `yaml:"settings"`
	Rules    []RuleConfig `yaml:"rules"`

	compiled []organize.Rule
}

// Settings holds the optional knobs of the watcher and daemon.
type Settings struct {
	DryRun         bool          `yaml:"dryRun"`                   // If true, simulate operations
	Settle         time.Duration `yaml:"settle"`                   // Quiet period before a file is handled
	Workers        int           `yaml:"workers"`                  // Concurrent event workers
	MaxExtractSize string        `yaml:"maxExtractSize,omitempty"` // e.g. "4GB"; empty means unlimited
	MetricsAddr    string        `yaml:"metricsAddr,omitempty"`    // e.g. ":9090"; empty disables /metrics
	Retry          RetrySettings `yaml:"retry"`
}

// RetrySettings controls re-dispatch of events that failed transiently.
type RetrySettings struct {
	MaxAttempts     int           `yaml:"maxAttempts"` // 1 disables retries
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
}

// RuleConfig is a rule as written in the configuration file. Exactly one
// of Regex and Glob is set.
type RuleConfig struct {
	Name    string         `yaml:"name,omitempty"`
	Regex   string         `yaml:"regex,omitempty"`
	Glob    string         `yaml:"glob,omitempty"`
	Actions []ActionConfig `yaml:"actions"`
}

// MoveConfig is the body of a move action.
type MoveConfig struct {
	Dest      string `yaml:"dest"`
	Duplicate string `yaml:"duplicate,omitempty"`
}

// UnzipConfig is the body of an unzip action.
type UnzipConfig struct {
	Dest string `yaml:"dest"`
}

// ActionConfig is one entry of a rule's action list. It is written as a
// single-key mapping ("move: {...}", "unzip: {...}", "delete: {}") or as
// the bare scalar "delete".
type ActionConfig struct {
	Move   *MoveConfig
	Unzip  *UnzipConfig
	Delete bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ActionConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value == "delete" {
			*a = ActionConfig{Delete: true}
			return nil
		}
		return fmt.Errorf("line %d: unknown action %q", node.Line, node.Value)
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: an action must be a mapping with exactly one of move, unzip or delete", node.Line)
	}

	key, body := node.Content[0].Value, node.Content[1]
	switch key {
	case "move":
		var m MoveConfig
		if err := decodeStrict(body, &m, "dest", "duplicate"); err != nil {
			return err
		}
		*a = ActionConfig{Move: &m}
	case "unzip":
		var u UnzipConfig
		if err := decodeStrict(body, &u, "dest"); err != nil {
			return err
		}
		*a = ActionConfig{Unzip: &u}
	case "delete":
		if body.Kind == yaml.MappingNode && len(body.Content) > 0 {
			return fmt.Errorf("line %d: delete takes no options", body.Line)
		}
		if body.Kind == yaml.ScalarNode && body.Tag != "!!null" && body.Value != "" {
			return fmt.Errorf("line %d: delete takes no options", body.Line)
		}
		*a = ActionConfig{Delete: true}
	default:
		return fmt.Errorf("line %d: unknown action %q", node.Content[0].Line, key)
	}
	return nil
}

// decodeStrict decodes a mapping node, rejecting keys not in allowed.
func decodeStrict(node *yaml.Node, out interface{}, allowed ...string) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i < len(node.Content); i += 2 {
		k := node.Content[i]
		known := false
		for _, a := range allowed {
			if k.Value == a {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("line %d: field %s not found in action", k.Line, k.Value)
		}
	}
	return node.Decode(out)
}

// MarshalYAML implements yaml.Marshaler.
func (a ActionConfig) MarshalYAML() (interface{}, error) {
	switch {
	case a.Move != nil:
		return map[string]*MoveConfig{"move": a.Move}, nil
	case a.Unzip != nil:
		return map[string]*UnzipConfig{"unzip": a.Unzip}, nil
	case a.Delete:
		return map[string]struct{}{"delete": {}}, nil
	}
	return nil, errors.New("empty action")
}

// Kind returns the action's key name.
func (a ActionConfig) Kind() string {
	switch {
	case a.Move != nil:
		return "move"
	case a.Unzip != nil:
		return "unzip"
	case a.Delete:
		return "delete"
	}
	return ""
}

// DefaultPath returns $XDG_CONFIG_HOME/downsort/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}

// FindPath returns the first existing config file in the XDG config
// search path, or DefaultPath when there is none.
func FindPath() string {
	if p, err := xdg.SearchConfigFile(filepath.Join(appName, configFileName)); err == nil {
		return p
	}
	return DefaultPath()
}

// Load reads, validates and compiles the configuration at path. A rule
// with a malformed pattern aborts loading.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewConfigError("config file not found", path, errors.ConfigNotFound, err)
		}
		return nil, errors.NewConfigError("error reading config file", path, errors.InvalidConfig, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if err := cfg.resolveBase(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	if _, err := cfg.Compile(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not
// validate; call Validate and Compile before use.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, errors.NewConfigError("config is empty", "", errors.InvalidConfig, nil)
		}
		return nil, errors.NewConfigError("error parsing config", "", errors.InvalidConfig, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "~"
	}
	if c.WatchDir == "" {
		c.WatchDir = defaultWatchDir
	}
	if c.Settings.Settle == 0 {
		c.Settings.Settle = defaultSettle
	}
	if c.Settings.Workers == 0 {
		c.Settings.Workers = defaultWorkers
	}
	if c.Settings.Retry.MaxAttempts == 0 {
		c.Settings.Retry.MaxAttempts = defaultMaxAttempts
	}
	if c.Settings.Retry.InitialInterval == 0 {
		c.Settings.Retry.InitialInterval = defaultInitialInterval
	}
	if c.Settings.Retry.MaxInterval == 0 {
		c.Settings.Retry.MaxInterval = defaultMaxInterval
	}
	for i := range c.Rules {
		if c.Rules[i].Name == "" {
			c.Rules[i].Name = fmt.Sprintf("rule-%d", i+1)
		}
		for _, a := range c.Rules[i].Actions {
			if a.Move != nil && a.Move.Duplicate == "" {
				a.Move.Duplicate = organize.RenameDate.String()
			}
		}
	}
}

// resolveBase expands a leading ~ in BaseDir and makes a relative BaseDir
// relative to dir.
func (c *Config) resolveBase(dir string) error {
	base, err := expandHome(c.BaseDir)
	if err != nil {
		return errors.NewConfigError("cannot expand baseDir", "baseDir", errors.InvalidConfig, err)
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(dir, base)
	}
	c.BaseDir = filepath.Clean(base)
	return nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Validate checks if the configuration is valid.
// Returns error if any settings are invalid.
func (c *Config) Validate() error {
	if c == nil {
		return errors.NewConfigError("nil config", "", errors.InvalidConfig, nil)
	}
	if c.BaseDir == "" {
		return errors.NewConfigError("baseDir is required", "baseDir", errors.InvalidConfig, nil)
	}
	if c.WatchDir == "" {
		return errors.NewConfigError("watchDir is required", "watchDir", errors.InvalidConfig, nil)
	}

	s := c.Settings
	if s.Settle < 0 {
		return errors.NewConfigError("settle must be >= 0", "settings.settle", errors.InvalidConfig, nil)
	}
	if s.Workers < 1 {
		return errors.NewConfigError("workers must be >= 1", "settings.workers", errors.InvalidConfig, nil)
	}
	if _, err := c.MaxExtractBytes(); err != nil {
		return err
	}
	if s.Retry.MaxAttempts < 1 {
		return errors.NewConfigError("maxAttempts must be >= 1", "settings.retry.maxAttempts", errors.InvalidConfig, nil)
	}
	if s.Retry.InitialInterval < 0 || s.Retry.MaxInterval < s.Retry.InitialInterval {
		return errors.NewConfigError("retry intervals must satisfy 0 <= initialInterval <= maxInterval", "settings.retry", errors.InvalidConfig, nil)
	}

	names := make(map[string]int, len(c.Rules))
	for i, r := range c.Rules {
		param := fmt.Sprintf("rules[%d]", i)
		if prev, dup := names[r.Name]; dup {
			return errors.NewConfigError(fmt.Sprintf("rule name %q already used by rules[%d]", r.Name, prev), param, errors.InvalidConfig, nil)
		}
		names[r.Name] = i

		if (r.Regex == "") == (r.Glob == "") {
			return errors.NewConfigError("exactly one of regex or glob is required", param, errors.InvalidConfig, nil)
		}
		if len(r.Actions) == 0 {
			return errors.NewConfigError("at least one action is required", param, errors.InvalidConfig, nil)
		}
		for j, a := range r.Actions {
			aparam := fmt.Sprintf("%s.actions[%d]", param, j)
			switch {
			case a.Move != nil:
				if a.Move.Dest == "" {
					return errors.NewConfigError("move needs dest", aparam, errors.InvalidConfig, nil)
				}
				if _, err := organize.ParseDuplicatePolicy(a.Move.Duplicate); err != nil {
					return errors.NewConfigError("invalid duplicate policy", aparam, errors.InvalidConfig, err)
				}
			case a.Unzip != nil:
				if a.Unzip.Dest == "" {
					return errors.NewConfigError("unzip needs dest", aparam, errors.InvalidConfig, nil)
				}
			case a.Delete:
			default:
				return errors.NewConfigError("empty action", aparam, errors.InvalidConfig, nil)
			}
		}
	}
	return nil
}

// Compile builds the rule list the engine runs. The result is cached and
// returned by CompiledRules.
func (c *Config) Compile() ([]organize.Rule, error) {
	rules := make([]organize.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		var (
			p   *organize.Pattern
			err error
		)
		if rc.Glob != "" {
			p, err = organize.CompileGlob(rc.Glob)
		} else {
			p, err = organize.CompileRegex(rc.Regex)
		}
		if err != nil {
			return nil, errors.NewRuleError("invalid pattern", rc.Name, errors.InvalidPattern, err)
		}

		actions := make([]organize.Action, 0, len(rc.Actions))
		for _, a := range rc.Actions {
			switch {
			case a.Move != nil:
				policy, err := organize.ParseDuplicatePolicy(a.Move.Duplicate)
				if err != nil {
					return nil, errors.NewRuleError("invalid action", rc.Name, errors.InvalidRule, err)
				}
				actions = append(actions, organize.Move{Dest: a.Move.Dest, Duplicate: policy})
			case a.Unzip != nil:
				actions = append(actions, organize.Unzip{Dest: a.Unzip.Dest})
			case a.Delete:
				actions = append(actions, organize.Delete{})
			}
		}

		rule, err := organize.NewRule(rc.Name, p, actions...)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	c.compiled = rules
	return rules, nil
}

// CompiledRules returns the rules built by the last Compile call.
func (c *Config) CompiledRules() []organize.Rule {
	return c.compiled
}

// Target returns the watch target described by the configuration.
func (c *Config) Target() organize.WatchTarget {
	return organize.WatchTarget{BaseDir: c.BaseDir, WatchDir: c.WatchDir}
}

// MaxExtractBytes parses Settings.MaxExtractSize. Zero means unlimited.
func (c *Config) MaxExtractBytes() (int64, error) {
	if c.Settings.MaxExtractSize == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.Settings.MaxExtractSize)
	if err != nil || n < 0 {
		return 0, errors.NewConfigError("invalid size", "settings.maxExtractSize", errors.InvalidConfig, err)
	}
	return n, nil
}

// EngineOptions returns the engine options implied by the settings.
func (c *Config) EngineOptions() []organize.Option {
	maxBytes, _ := c.MaxExtractBytes()
	return []organize.Option{
		organize.WithDryRun(c.Settings.DryRun),
		organize.WithMaxExtractSize(maxBytes),
	}
}

// Save writes cfg to path as YAML.
// It creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewConfigError("failed to create config directory", dir, errors.FileCreateFailed, err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return errors.NewConfigError("failed to marshal config", path, errors.InvalidConfig, err)
	}
	if err := enc.Close(); err != nil {
		return errors.NewConfigError("failed to marshal config", path, errors.InvalidConfig, err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.NewConfigError("failed to write config file", path, errors.FileCreateFailed, err)
	}
	return nil
}

// Example returns the configuration written by "downsort init".
func Example() *Config {
	cfg := &Config{
		BaseDir:  "~",
		WatchDir: defaultWatchDir,
		Rules: []RuleConfig{
			{
				Name:  "installers",
				Regex: `.*\.(msi|exe|dmg|pkg|deb|rpm)`,
				Actions: []ActionConfig{
					{Move: &MoveConfig{Dest: "Downloads/Installers", Duplicate: "rename-date"}},
				},
			},
			{
				Name: "archives",
				Glob: "*.{zip,tgz,tar.gz}",
				Actions: []ActionConfig{
					{Unzip: &UnzipConfig{Dest: "Downloads/Extracted"}},
					{Delete: true},
				},
			},
			{
				Name:  "images",
				Regex: `(?i).*\.(jpe?g|png|gif|webp|heic)`,
				Actions: []ActionConfig{
					{Move: &MoveConfig{Dest: "Pictures/Downloads", Duplicate: "rename-date"}},
				},
			},
			{
				Name: "documents",
				Glob: "*.{pdf,docx,xlsx,pptx,txt}",
				Actions: []ActionConfig{
					{Move: &MoveConfig{Dest: "Documents/Downloads", Duplicate: "overwrite"}},
				},
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}
