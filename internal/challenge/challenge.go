// Package challenge defines practice challenges and loads challenge catalogs.
package challenge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-coach/internal/textnorm"
)

// ErrUnknownChallenge is returned when a catalog lookup misses.
var ErrUnknownChallenge = errors.New("unknown challenge")

// Challenge is a reference script the speaker reads against a time limit.
type Challenge struct {
	ID               string   `yaml:"id" toml:"id" json:"id"`
	Title            string   `yaml:"title" toml:"title" json:"title"`
	Script           string   `yaml:"script" toml:"script" json:"script"`
	TimeLimitSeconds int      `yaml:"time_limit_seconds" toml:"time_limit_seconds" json:"time_limit_seconds"`
	Keywords         []string `yaml:"keywords" toml:"keywords" json:"keywords"`
}

// Reference is the immutable normalized form of a challenge used for
// alignment and scoring.
type Reference struct {
	Words    []string
	Keywords []string
}

// Text returns the normalized script as single-spaced words.
func (r Reference) Text() string {
	return strings.Join(r.Words, " ")
}

// Reference normalizes the script and keywords.
func (c Challenge) Reference() Reference {
	ref := Reference{Words: textnorm.Words(c.Script)}
	for _, kw := range c.Keywords {
		if n := textnorm.Normalize(kw); n != "" {
			ref.Keywords = append(ref.Keywords, n)
		}
	}
	return ref
}

// Validate checks the fields a session needs to start.
func Validate(c Challenge) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if c.TimeLimitSeconds <= 0 {
		return fmt.Errorf("challenge %s: time_limit_seconds must be positive, got %d", c.ID, c.TimeLimitSeconds)
	}
	if len(textnorm.Words(c.Script)) == 0 {
		return fmt.Errorf("challenge %s: script must contain at least one word", c.ID)
	}
	for i, kw := range c.Keywords {
		if textnorm.Normalize(kw) == "" {
			return fmt.Errorf("challenge %s: keyword %d is empty after normalization", c.ID, i)
		}
	}
	return nil
}

type catalogFile struct {
	Challenges []Challenge `yaml:"challenges" toml:"challenges"`
}

// Catalog is an ordered, read-only set of challenges.
type Catalog struct {
	order []string
	byID  map[string]Challenge
}

// NewCatalog validates challenges and indexes them by id.
func NewCatalog(challenges ...Challenge) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Challenge, len(challenges))}
	for _, ch := range challenges {
		if err := c.add(ch); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) add(ch Challenge) error {
	if err := Validate(ch); err != nil {
		return err
	}
	if _, exists := c.byID[ch.ID]; exists {
		return fmt.Errorf("duplicate challenge id %s", ch.ID)
	}
	ch.Keywords = append([]string(nil), ch.Keywords...)
	c.byID[ch.ID] = ch
	c.order = append(c.order, ch.ID)
	return nil
}

// Load reads a catalog file. Files ending in .toml are decoded as TOML,
// anything else as YAML.
func Load(path string) ([]Challenge, error) {
	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("decode catalog %s: %w", path, err)
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("decode catalog %s: %w", path, err)
		}
	}
	return file.Challenges, nil
}

// LoadCatalog builds a catalog from the built-in challenges (when
// includeBuiltin is set) followed by the challenges in path (when non-empty).
func LoadCatalog(path string, includeBuiltin bool) (*Catalog, error) {
	var all []Challenge
	if includeBuiltin {
		all = append(all, Builtin()...)
	}
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		all = append(all, loaded...)
	}
	return NewCatalog(all...)
}

// Get looks up a challenge by id.
func (c *Catalog) Get(id string) (Challenge, error) {
	ch, ok := c.byID[id]
	if !ok {
		return Challenge{}, fmt.Errorf("%w: %s", ErrUnknownChallenge, id)
	}
	return ch, nil
}

// List returns the challenges in catalog order.
func (c *Catalog) List() []Challenge {
	out := make([]Challenge, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) Len() int { return len(c.order) }
