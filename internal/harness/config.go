package harness

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	yaml "gopkg.in/yaml.v3"

	"github.com/rudra-tools/rudratest/pkg/invoke"
)

// DefaultConfigFile is read from the working directory when no config file
// is named explicitly.
const DefaultConfigFile = ".rudratest.yaml"

// Config is the harness configuration file.
type Config struct {
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Local    LocalConfig    `yaml:"local"`
	Remote   RemoteConfig   `yaml:"remote"`
}

// AnalyzerConfig describes how to run the analyzer on a single fixture.
type AnalyzerConfig struct {
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Dir       string            `yaml:"dir,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
	ReportEnv string            `yaml:"report_env,omitempty"`
	TempDir   string            `yaml:"temp_dir,omitempty"`
}

// LocalConfig configures the fixture corpus run.
type LocalConfig struct {
	CorpusDir string   `yaml:"corpus_dir"`
	Workers   int      `yaml:"workers"`
	Include   []string `yaml:"include,omitempty"`
}

// RemoteConfig configures the end-to-end campaign over published packages.
type RemoteConfig struct {
	Descriptor  string   `yaml:"descriptor"`
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	RegistryURL string   `yaml:"registry_url"`
	WorkDir     string   `yaml:"work_dir,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			Command:   "rudra",
			Args:      []string{"-Zrudra-enable-unsafe-destructor", "--crate-type", "lib"},
			ReportEnv: invoke.DefaultReportEnv,
		},
		Local: LocalConfig{
			CorpusDir: "tests",
			Workers:   DefaultWorkers,
		},
		Remote: RemoteConfig{
			Descriptor:  "ci/end_to_end_test.toml",
			Command:     "cargo",
			Args:        []string{"rudra"},
			RegistryURL: "https://static.crates.io/crates",
		},
	}
}

// LoadConfig reads the config file at path over the defaults. A missing file
// is only an error when explicit is set.
func LoadConfig(path string, explicit bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{
		&c.Analyzer.Dir,
		&c.Analyzer.TempDir,
		&c.Local.CorpusDir,
		&c.Remote.Descriptor,
		&c.Remote.WorkDir,
	} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the settings shared by both runs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Analyzer.Command) == "" {
		return errors.New("analyzer.command must not be empty")
	}
	if c.Local.Workers < 1 {
		return fmt.Errorf("local.workers must be at least 1, got %d", c.Local.Workers)
	}
	if c.Analyzer.Timeout < 0 {
		return fmt.Errorf("analyzer.timeout must not be negative, got %s", c.Analyzer.Timeout)
	}
	return nil
}

// InvokeOptions converts the analyzer settings for package invoke.
func (a AnalyzerConfig) InvokeOptions() invoke.Options {
	env := make([]string, 0, len(a.Env))
	for _, key := range slices.Sorted(maps.Keys(a.Env)) {
		env = append(env, key+"="+a.Env[key])
	}
	return invoke.Options{
		Command:   a.Command,
		Args:      a.Args,
		Dir:       a.Dir,
		Env:       env,
		ReportEnv: a.ReportEnv,
		TempDir:   a.TempDir,
		Timeout:   a.Timeout,
	}
}
