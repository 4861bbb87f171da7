package server

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/ohler55/ojg/oj"
)

// Entry is one entity version served by the stub, with its full rules response.
type Entry struct {
	Ref      models.EntityRef
	Name     string
	Document map[string]any
}

// Catalog holds the rule trees the stub searches. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[models.EntityRef]*Entry
	files   map[string]models.EntityRef
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		entries: make(map[models.EntityRef]*Entry),
		files:   make(map[string]models.EntityRef),
	}
}

// Put adds or replaces an entry.
func (c *Catalog) Put(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Ref] = e
}

// Get returns the entry for ref.
func (c *Catalog) Get(ref models.EntityRef) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ref]
	return e, ok
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns all entries ordered by kind, id and version.
func (c *Catalog) Snapshot() []*Entry {
	c.mu.RLock()
	out := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Ref, out[j].Ref
		if a.Kind != b.Kind {
			return a.Kind > b.Kind // properties before includes
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Version < b.Version
	})
	return out
}

// fixtureName matches <id>_v<version>.json for bare rule trees.
var fixtureName = regexp.MustCompile(`^(.+)_v(\d+)\.json$`)

// LoadFile reads one fixture and indexes it under its path so it can be
// replaced or removed when the file changes.
func (c *Catalog) LoadFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	e, err := ParseFixture(filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.files[path]; ok && old != e.Ref {
		delete(c.entries, old)
	}
	c.files[path] = e.Ref
	c.entries[e.Ref] = e
	return e, nil
}

// RemoveFile drops the entry that was loaded from path.
func (c *Catalog) RemoveFile(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref, ok := c.files[path]
	if !ok {
		return false
	}
	delete(c.files, path)
	delete(c.entries, ref)
	return true
}

// LoadDir loads every .json fixture in dir. It returns how many were loaded.
func (c *Catalog) LoadDir(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)
	for _, p := range matches {
		if _, err := c.LoadFile(p); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// ParseFixture builds an entry from a fixture file. A document carrying
// propertyId/propertyVersion (or includeId/includeVersion) identifies itself;
// otherwise the file name must be <id>_v<version>.json.
func ParseFixture(name string, data []byte) (*Entry, error) {
	v, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level must be an object")
	}
	if _, ok := doc["rules"]; !ok {
		doc = map[string]any{"rules": doc}
	}

	e := &Entry{Document: doc}
	switch {
	case stringField(doc, "propertyId") != "":
		e.Ref = models.EntityRef{Kind: models.KindProperty, ID: stringField(doc, "propertyId"), Version: intField(doc, "propertyVersion")}
		e.Name = stringField(doc, "propertyName")
	case stringField(doc, "includeId") != "":
		e.Ref = models.EntityRef{Kind: models.KindInclude, ID: stringField(doc, "includeId"), Version: intField(doc, "includeVersion")}
		e.Name = stringField(doc, "includeName")
	default:
		m := fixtureName.FindStringSubmatch(name)
		if m == nil {
			return nil, fmt.Errorf("no propertyId in document and name %q is not <id>_v<version>.json", name)
		}
		ver, _ := strconv.Atoi(m[2])
		kind := models.KindProperty
		if strings.HasPrefix(m[1], "inc_") {
			kind = models.KindInclude
		}
		e.Ref = models.EntityRef{Kind: kind, ID: m[1], Version: ver}
	}
	if e.Ref.Version < 1 {
		return nil, fmt.Errorf("%s has no version", e.Ref.ID)
	}
	if e.Name == "" {
		e.Name = e.Ref.ID
	}
	return e, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(n)
		return i
	}
	return 0
}
