package config

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/whisper/chat-filter/internal/logging"
	"github.com/whisper/chat-filter/internal/moderation"
)

// authorNamePattern is the expected shape of a blacklisted author. Names
// that do not fit only produce a warning.
var authorNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)

// ValidationResult separates fatal problems from ones that fall back to a
// default.
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Validate checks all three files.
func (c *Config) Validate() ValidationResult {
	var r ValidationResult
	c.validateMain(&r)
	c.validateWords(&r)
	c.validateBlacklist(&r)
	return r
}

func (c *Config) validateMain(r *ValidationResult) {
	if c.Enabled == nil {
		r.warnf("missing 'enabled', defaulting to true")
	}
	if c.Version == 0 {
		r.warnf("missing 'config-version'")
	}

	if c.Detection == nil {
		r.warnf("missing 'detection-settings' section")
	} else {
		if c.Detection.CaseSensitive == nil {
			r.warnf("missing 'detection-settings.case-sensitive', defaulting to false")
		}
		if c.Detection.UseRegex {
			for _, err := range moderation.ValidateRegexPatterns(c.Words) {
				r.warnf("invalid regular expression, regex mode will be disabled: %v", err)
			}
		}
	}

	c.validateStages(r)

	if c.Log != nil {
		if _, err := logging.ParseLevel(c.LogLevel()); err != nil {
			r.errorf("invalid log level %q, valid values: SEVERE, WARNING, INFO, FINE", c.Log.Level)
		}
		if f := strings.ToLower(c.LogFormat()); f != "text" && f != "json" {
			r.errorf("invalid log format %q, valid values: text, json", c.Log.Format)
		}
		if c.Log.LogToFile && strings.TrimSpace(c.Log.LogFile) == "" {
			r.errorf("log-to-file is enabled but log-file is empty")
		}
	}

	if _, err := c.RolloverInterval(); err != nil {
		r.errorf("%v", err)
	}
	if _, err := c.Location(); err != nil {
		r.errorf("%v", err)
	}
}

func (c *Config) validateStages(r *ValidationResult) {
	if c.Stages == nil {
		r.errorf("missing 'punishment-stages'")
		return
	}
	if len(c.Stages) == 0 {
		r.errorf("'punishment-stages' is empty")
		return
	}

	keys := make([]string, 0, len(c.Stages))
	for k := range c.Stages {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[int]string, len(keys))
	for _, key := range keys {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			r.errorf("invalid punishment stage number: %q", key)
			continue
		}
		if n <= 0 {
			r.errorf("punishment stage number must be a positive integer: %q", key)
			continue
		}
		if prev, dup := seen[n]; dup {
			r.errorf("punishment stage %d defined twice (%q and %q)", n, prev, key)
			continue
		}
		seen[n] = key

		sc := c.Stages[key]
		if len(sc.Commands) == 0 {
			r.warnf("punishment stage %d has no commands", n)
		}
		for _, cmd := range sc.Commands {
			if strings.TrimSpace(cmd) == "" {
				r.warnf("punishment stage %d contains an empty command", n)
			}
		}
		if sc.WarningMessage == nil || strings.TrimSpace(*sc.WarningMessage) == "" {
			r.warnf("punishment stage %d has no warning-message", n)
		}
	}
}

func (c *Config) validateWords(r *ValidationResult) {
	for i, w := range c.Words {
		switch {
		case strings.TrimSpace(w) == "":
			r.warnf("sensitive word %d is empty and will be ignored", i+1)
		case utf8.RuneCountInString(w) > MaxWordChars:
			r.warnf("sensitive word %d is longer than %d characters: %s...", i+1, MaxWordChars, truncate(w, 20))
		}
	}
}

func (c *Config) validateBlacklist(r *ValidationResult) {
	for i, a := range c.Blacklist {
		switch {
		case strings.TrimSpace(a) == "":
			r.warnf("blacklist entry %d is empty and will be ignored", i+1)
		case !authorNamePattern.MatchString(a):
			r.warnf("unusual author name in blacklist: %q", a)
		}
	}
}

func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
