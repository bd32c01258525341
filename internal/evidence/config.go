// Package evidence builds token-bounded sparse prompts: it strips page
// chrome, keeps signal lines, and pulls keyword windows for the fields a
// record is still missing.
package evidence

import (
	_ "embed"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/certstate-cli/internal/certstate"
)

//go:embed keywords.yaml
var defaultConfigYAML []byte

// Config holds the keyword tables and snippet limits.
type Config struct {
	MaxSnippets    int                 `yaml:"max_snippets"`
	WindowLines    int                 `yaml:"window_lines"`
	SignalPrefixes []string            `yaml:"signal_prefixes"`
	SignalKeywords []string            `yaml:"signal_keywords"`
	Boilerplate    []string            `yaml:"boilerplate"`
	FieldKeywords  map[string][]string `yaml:"field_keywords"`
}

// DefaultConfig returns the built-in keyword tables.
func DefaultConfig() *Config {
	cfg, err := parseConfig(defaultConfigYAML, &Config{})
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads a YAML file layered over the built-in tables. Keys present
// in the file replace the default; field_keywords entries replace per field.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "evidence: read config %s", path)
	}
	return parseConfig(data, DefaultConfig())
}

func parseConfig(data []byte, base *Config) (*Config, error) {
	wrapper := struct {
		Evidence *Config `yaml:"evidence"`
	}{Evidence: base}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "evidence: parse config")
	}
	cfg := wrapper.Evidence
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects keyword tables for unknown fields and non-positive limits.
func (c *Config) Validate() error {
	if c.MaxSnippets <= 0 {
		return eris.New("evidence: max_snippets must be positive")
	}
	if c.WindowLines < 0 {
		return eris.New("evidence: window_lines must not be negative")
	}
	for field := range c.FieldKeywords {
		if _, ok := certstate.Lookup(field); !ok {
			return eris.Errorf("evidence: keywords for unknown field %q", field)
		}
	}
	for _, p := range c.Boilerplate {
		if _, err := regexp.Compile(p); err != nil {
			return eris.Wrapf(err, "evidence: boilerplate pattern %q", p)
		}
	}
	return nil
}

// matcher holds the compiled form of a Config.
type matcher struct {
	boilerplate []*regexp.Regexp
	signal      *regexp.Regexp
	fields      map[string]*regexp.Regexp
}

func compile(c *Config) (*matcher, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m := &matcher{fields: make(map[string]*regexp.Regexp, len(c.FieldKeywords))}
	for _, p := range c.Boilerplate {
		m.boilerplate = append(m.boilerplate, regexp.MustCompile(p))
	}
	m.signal = keywordPattern(c.SignalKeywords)
	for field, kws := range c.FieldKeywords {
		if re := keywordPattern(kws); re != nil {
			m.fields[field] = re
		}
	}
	return m, nil
}

// keywordPattern builds one alternation for kws. Short all-caps acronyms
// (EN, IEC, EEE) match case-sensitively as whole words so that "EN" does not
// hit "environment"; everything else matches case-insensitively from a word
// start.
func keywordPattern(kws []string) *regexp.Regexp {
	var alts []string
	for _, kw := range kws {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		q := regexp.QuoteMeta(kw)
		if startsWord(kw) {
			q = `\b` + q
		}
		if isAcronym(kw) {
			alts = append(alts, q+`\b`)
			continue
		}
		alts = append(alts, "(?i:"+q+")")
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(strings.Join(alts, "|"))
}

func startsWord(s string) bool {
	r := []rune(s)[0]
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isAcronym(s string) bool {
	if len(s) < 2 || len(s) > 5 {
		return false
	}
	letters := 0
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			letters++
		case unicode.IsDigit(r):
		default:
			return false
		}
	}
	return letters > 0
}
