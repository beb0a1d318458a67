// Package config loads the chat filter's YAML files:
//
//	config.yml     switches, detection settings, punishment stages, logging
//	words.yml      sensitive-words list
//	blacklist.yml  authors that bypass moderation
//
// Missing keys fall back to defaults. Validate reports problems as errors
// (the configuration cannot be used) or warnings (it can, with a default).
package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whisper/chat-filter/internal/moderation"
)

const (
	MainFile      = "config.yml"
	WordsFile     = "words.yml"
	BlacklistFile = "blacklist.yml"
)

const (
	DefaultLogLevel         = "INFO"
	DefaultLogFile          = "chatfilter.log"
	DefaultRolloverInterval = 10 * time.Minute
	MaxWordChars            = 100
)

//go:embed defaults/*.yml
var defaults embed.FS

// Config is the parsed contents of the three configuration files.
type Config struct {
	Version   int                    `yaml:"config-version"`
	Enabled   *bool                  `yaml:"enabled"`
	Detection *Detection             `yaml:"detection-settings"`
	Stages    map[string]StageConfig `yaml:"punishment-stages"`
	Log       *LogSettings           `yaml:"log-settings"`
	Rollover  RolloverSettings       `yaml:"rollover"`

	Words     []string `yaml:"-"`
	Blacklist []string `yaml:"-"`

	dir string
}

type Detection struct {
	UseRegex      bool  `yaml:"use-regex"`
	CaseSensitive *bool `yaml:"case-sensitive"`
}

type StageConfig struct {
	Commands       []string `yaml:"commands"`
	WarningMessage *string  `yaml:"warning-message"`
}

type LogSettings struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	LogToFile bool   `yaml:"log-to-file"`
	LogFile   string `yaml:"log-file"`
}

type RolloverSettings struct {
	Interval string `yaml:"interval"`
	Timezone string `yaml:"timezone"`
}

type wordsFile struct {
	SensitiveWords []string `yaml:"sensitive-words"`
}

type blacklistFile struct {
	BlacklistPlayers []string `yaml:"blacklist-players"`
}

// EnsureDefaults writes the default files into dir for any that are
// missing, creating dir if needed. Existing files are left untouched.
func EnsureDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	for _, name := range []string{MainFile, WordsFile, BlacklistFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: stat %s: %w", path, err)
		}
		data, err := defaults.ReadFile("defaults/" + name)
		if err != nil {
			return fmt.Errorf("config: default %s: %w", name, err)
		}
		if err := writeAtomic(path, data); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the three files from dir. A missing words or blacklist file is
// treated as an empty list; a missing main file is an error.
func Load(dir string) (*Config, error) {
	cfg := &Config{dir: dir}
	if err := readYAML(filepath.Join(dir, MainFile), cfg, false); err != nil {
		return nil, err
	}

	var words wordsFile
	if err := readYAML(filepath.Join(dir, WordsFile), &words, true); err != nil {
		return nil, err
	}
	cfg.Words = words.SensitiveWords

	var blacklist blacklistFile
	if err := readYAML(filepath.Join(dir, BlacklistFile), &blacklist, true); err != nil {
		return nil, err
	}
	cfg.Blacklist = blacklist.BlacklistPlayers

	return cfg, nil
}

func readYAML(path string, out interface{}, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string { return c.dir }

// IsEnabled defaults to true.
func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *Config) UseRegex() bool {
	return c.Detection != nil && c.Detection.UseRegex
}

// CaseSensitive defaults to false.
func (c *Config) CaseSensitive() bool {
	return c.Detection != nil && c.Detection.CaseSensitive != nil && *c.Detection.CaseSensitive
}

// PatternSet builds the pattern set from the word list and detection flags.
func (c *Config) PatternSet() moderation.PatternSet {
	return moderation.NewPatternSet(c.Words, c.CaseSensitive(), c.UseRegex())
}

// StageTable converts the punishment stages. Keys that are not positive
// integers are skipped; Validate reports them. A stage without a warning
// message gets moderation.DefaultWarning.
func (c *Config) StageTable() (moderation.StageTable, error) {
	stages := make([]moderation.Stage, 0, len(c.Stages))
	for key, sc := range c.Stages {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || n < 1 {
			continue
		}
		warning := moderation.DefaultWarning
		if sc.WarningMessage != nil {
			warning = *sc.WarningMessage
		}
		stages = append(stages, moderation.Stage{
			Number:   n,
			Commands: sc.Commands,
			Warning:  warning,
		})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Number < stages[j].Number })

	table, err := moderation.NewStageTable(stages...)
	if err != nil {
		return moderation.StageTable{}, fmt.Errorf("config: punishment-stages: %w", err)
	}
	return table, nil
}

// LogLevel returns the configured level name, INFO when unset.
func (c *Config) LogLevel() string {
	if c.Log == nil || strings.TrimSpace(c.Log.Level) == "" {
		return DefaultLogLevel
	}
	return c.Log.Level
}

func (c *Config) LogFormat() string {
	if c.Log == nil || c.Log.Format == "" {
		return "text"
	}
	return c.Log.Format
}

// LogFile returns the path of the log file, resolved against the config
// directory, or "" when file logging is off.
func (c *Config) LogFile() string {
	if c.Log == nil || !c.Log.LogToFile {
		return ""
	}
	name := c.Log.LogFile
	if strings.TrimSpace(name) == "" {
		name = DefaultLogFile
	}
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.dir, name)
}

// RolloverInterval returns the configured check interval, 10m by default.
func (c *Config) RolloverInterval() (time.Duration, error) {
	if strings.TrimSpace(c.Rollover.Interval) == "" {
		return DefaultRolloverInterval, nil
	}
	d, err := time.ParseDuration(c.Rollover.Interval)
	if err != nil {
		return 0, fmt.Errorf("config: rollover.interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: rollover.interval must be positive, got %s", d)
	}
	return d, nil
}

// Location returns the time zone whose midnight triggers the daily reset.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Rollover.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("config: rollover.timezone: %w", err)
	}
	return loc, nil
}

// SaveWords rewrites words.yml in dir.
func SaveWords(dir string, words []string) error {
	return saveYAML(filepath.Join(dir, WordsFile), wordsFile{SensitiveWords: nonNil(words)})
}

// SaveBlacklist rewrites blacklist.yml in dir.
func SaveBlacklist(dir string, authors []string) error {
	return saveYAML(filepath.Join(dir, BlacklistFile), blacklistFile{BlacklistPlayers: nonNil(authors)})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func saveYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return writeAtomic(path, data)
}

// writeAtomic replaces path by renaming a temp file over it, so readers
// never see a half-written file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
