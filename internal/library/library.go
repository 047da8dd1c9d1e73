// Package library maps announcement cues to audio files.
//
// A catalog holds several libraries (voice packs). Each library maps cues to
// paths; cues a library lacks fall back to the default library, which covers
// every schedulable cue.
package library

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/examcast/internal/model"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ErrNoAudio is returned when neither the requested nor the default library
// has an entry for a cue.
var ErrNoAudio = errors.New("no audio for cue")

// Library is one voice pack.
type Library struct {
	ID   string
	Name string
	Cues map[model.Cue]string
}

// Catalog is the set of known libraries.
// It is immutable after construction and safe for concurrent use.
type Catalog struct {
	defaultID string
	libraries map[string]*Library
	order     []string

	baseURL  string
	localDir string
}

type catalogFile struct {
	Default   string `yaml:"default"`
	Libraries []struct {
		ID   string            `yaml:"id"`
		Name string            `yaml:"name"`
		Cues map[string]string `yaml:"cues"`
	} `yaml:"libraries"`
}

// Embedded returns the catalog bundled with the binary.
func Embedded() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		defaultID: f.Default,
		libraries: make(map[string]*Library, len(f.Libraries)),
	}

	for _, l := range f.Libraries {
		if l.ID == "" {
			return nil, fmt.Errorf("library with empty id")
		}
		if _, dup := c.libraries[l.ID]; dup {
			return nil, fmt.Errorf("duplicate library %q", l.ID)
		}
		lib := &Library{ID: l.ID, Name: l.Name, Cues: make(map[model.Cue]string, len(l.Cues))}
		for name, p := range l.Cues {
			cue, ok := model.ParseCue(name)
			if !ok {
				return nil, fmt.Errorf("library %q: unknown cue %q", l.ID, name)
			}
			lib.Cues[cue] = p
		}
		c.libraries[l.ID] = lib
		c.order = append(c.order, l.ID)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	def, ok := c.libraries[c.defaultID]
	if !ok {
		return fmt.Errorf("default library %q not defined", c.defaultID)
	}
	for _, cue := range model.Cues() {
		if def.Cues[cue] == "" {
			return fmt.Errorf("default library %q has no entry for %s", c.defaultID, cue)
		}
	}
	for _, id := range c.order {
		if c.libraries[id].Cues[model.CueTuning] == "" {
			return fmt.Errorf("library %q has no tuning audio", id)
		}
	}
	return nil
}

// WithLocation returns a copy of the catalog that resolves relative paths
// against baseURL, or against localDir when baseURL is empty.
func (c *Catalog) WithLocation(baseURL, localDir string) *Catalog {
	out := *c
	out.baseURL = strings.TrimRight(baseURL, "/")
	out.localDir = localDir
	return &out
}

// Default returns the id of the default library.
func (c *Catalog) Default() string {
	return c.defaultID
}

// Has reports whether id names a library.
func (c *Catalog) Has(id string) bool {
	_, ok := c.libraries[id]
	return ok
}

// Libraries returns all libraries in catalog order.
func (c *Catalog) Libraries() []Library {
	out := make([]Library, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.libraries[id])
	}
	return out
}

// Path returns the catalog path for cue in the given library, falling back to
// the default library. An unknown library id is treated as the default.
func (c *Catalog) Path(cue model.Cue, libraryID string) (string, error) {
	if lib, ok := c.libraries[libraryID]; ok {
		if p := lib.Cues[cue]; p != "" {
			return p, nil
		}
	}
	if p := c.libraries[c.defaultID].Cues[cue]; p != "" {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoAudio, cue)
}

// Resolve returns the playable location for cue in the given library.
func (c *Catalog) Resolve(cue model.Cue, libraryID string) (string, error) {
	p, err := c.Path(cue, libraryID)
	if err != nil {
		return "", err
	}
	return c.locate(p), nil
}

// URLs returns every distinct playable location across all libraries.
func (c *Catalog) URLs() []string {
	seen := make(map[string]bool)
	var urls []string
	for _, id := range c.order {
		lib := c.libraries[id]
		for _, cue := range append(model.Cues(), model.CueTuning) {
			p, ok := lib.Cues[cue]
			if !ok {
				continue
			}
			u := c.locate(p)
			if !seen[u] {
				seen[u] = true
				urls = append(urls, u)
			}
		}
	}
	return urls
}

func (c *Catalog) locate(p string) string {
	if isAbsoluteURL(p) {
		return p
	}
	if c.baseURL != "" {
		return c.baseURL + "/" + strings.TrimLeft(p, "/")
	}
	if c.localDir != "" {
		return filepath.Join(c.localDir, filepath.FromSlash(strings.TrimLeft(p, "/")))
	}
	return p
}

func isAbsoluteURL(p string) bool {
	if model.IsDataURL(p) {
		return true
	}
	for _, scheme := range []string{"http://", "https://", "file://"} {
		if strings.HasPrefix(p, scheme) {
			return true
		}
	}
	return false
}
