// Package e2e runs the full search pipeline against the local stub service.
package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Property is one generated rule tree.
type Property struct {
	ID      string
	Version int
	Name    string
	Origins []string // hostnames, one origin behavior each; the first sits on the default rule
	TTL     string   // caching MAX_AGE ttl; empty means no caching behavior
	Include bool
}

// QueryTestCase is a behavior/parameter search and the values it must produce,
// in output order.
type QueryTestCase struct {
	Behavior  string
	Parameter string
	Value     string
	Expected  []Expected
}

// Expected is one extraction result.
type Expected struct {
	EntityName string
	Value      any
}

// Corpus holds the generated properties and the searches run against them.
type Corpus struct {
	Properties []Property
	TestCases  []QueryTestCase
}

// BuildCorpus returns n entities with predictable origins and caching rules.
// Entity i has i%3+1 origins and caches for 1d when i%4 == 0, 7d otherwise.
// The last entity is an include. Ids sort in generation order.
func BuildCorpus(n int) *Corpus {
	c := &Corpus{}
	var origins []Expected
	for i := 0; i < n; i++ {
		p := Property{
			ID:      fmt.Sprintf("prp_%03d", i),
			Version: i%2 + 1,
			Name:    fmt.Sprintf("site%03d.example.com", i),
			TTL:     "7d",
			Include: n > 1 && i == n-1,
		}
		if p.Include {
			p.ID = fmt.Sprintf("inc_%03d", i)
		}
		if i%4 == 0 {
			p.TTL = "1d"
		}
		for j := 0; j <= i%3; j++ {
			host := fmt.Sprintf("origin%d.site%03d.example.com", j, i)
			p.Origins = append(p.Origins, host)
			origins = append(origins, Expected{EntityName: p.Name, Value: host})
		}
		c.Properties = append(c.Properties, p)
	}
	c.TestCases = []QueryTestCase{
		{Behavior: "origin", Parameter: "hostname", Expected: origins},
		{Behavior: "caching", Parameter: "ttl", Expected: caching(c.Properties)},
		{Behavior: "gzipResponse"},
	}
	return c
}

func caching(props []Property) []Expected {
	var out []Expected
	for _, p := range props {
		if p.TTL != "" {
			out = append(out, Expected{EntityName: p.Name, Value: p.TTL})
		}
	}
	return out
}

// Document returns the rules response for p.
func (p Property) Document() map[string]any {
	rule := func(name string, behaviors ...map[string]any) map[string]any {
		if behaviors == nil {
			behaviors = []map[string]any{}
		}
		return map[string]any{"name": name, "behaviors": behaviors, "children": []any{}}
	}
	origin := func(host string) map[string]any {
		return map[string]any{"name": "origin", "options": map[string]any{"hostname": host, "forwardHostHeader": "REQUEST_HOST_HEADER"}}
	}

	root := rule("default", origin(p.Origins[0]))
	if p.TTL != "" {
		root["behaviors"] = append(root["behaviors"].([]map[string]any),
			map[string]any{"name": "caching", "options": map[string]any{"behavior": "MAX_AGE", "ttl": p.TTL}})
	}
	var children []any
	for j, host := range p.Origins[1:] {
		children = append(children, rule(fmt.Sprintf("route %d", j+1), origin(host)))
	}
	if children != nil {
		root["children"] = children
	}

	doc := map[string]any{"rules": root}
	if p.Include {
		doc["includeId"], doc["includeVersion"], doc["includeName"] = p.ID, p.Version, p.Name
	} else {
		doc["propertyId"], doc["propertyVersion"], doc["propertyName"] = p.ID, p.Version, p.Name
	}
	return doc
}

// WriteFixtures writes one envelope fixture per property into dir.
func (c *Corpus) WriteFixtures(dir string) error {
	for _, p := range c.Properties {
		if err := WriteFixture(dir, p); err != nil {
			return err
		}
	}
	return nil
}

// WriteFixture writes p to dir as <id>.json.
func WriteFixture(dir string, p Property) error {
	data, err := json.MarshalIndent(p.Document(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, p.ID+".json"), data, 0o644)
}
