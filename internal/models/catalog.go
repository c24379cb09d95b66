package models

import (
	"fmt"
	"strings"
)

const DefaultModel = "claude-3-7-sonnet-20250219"

// Builtin is the ordered list of model identifiers accepted by the client.
var Builtin = []string{
	"claude-3-7-sonnet-20250219",
	"claude-3-5-sonnet-20240620",
	"claude-3-opus-20240229",
	"claude-3-sonnet-20240229",
	"claude-3-haiku-20240307",
	"claude-instant-1.2",
}

type Definition struct {
	ID string
	// ExtendedOutput reports whether the 128k output beta may be requested.
	ExtendedOutput bool
}

type Catalog struct {
	order  []string
	models map[string]Definition
}

// NewCatalog returns the builtin models followed by any extra identifiers
// from configuration, without duplicates.
func NewCatalog(extra []string) *Catalog {
	c := &Catalog{models: map[string]Definition{}}
	for _, id := range append(append([]string(nil), Builtin...), extra...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := c.models[id]; ok {
			continue
		}
		c.models[id] = Definition{ID: id, ExtendedOutput: supportsExtendedOutput(id)}
		c.order = append(c.order, id)
	}
	return c
}

func (c *Catalog) Default() Definition {
	return c.models[DefaultModel]
}

func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.models[id])
	}
	return out
}

func (c *Catalog) IsKnown(id string) bool {
	_, ok := c.models[strings.TrimSpace(id)]
	return ok
}

// Resolve accepts an exact identifier or a 1-based position in List.
func (c *Catalog) Resolve(name string) (Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return c.Default(), nil
	}
	if d, ok := c.models[name]; ok {
		return d, nil
	}
	var idx int
	if _, err := fmt.Sscanf(name, "%d", &idx); err == nil && fmt.Sprint(idx) == name {
		if idx >= 1 && idx <= len(c.order) {
			return c.models[c.order[idx-1]], nil
		}
	}
	return Definition{}, fmt.Errorf("unknown model %q", name)
}

func (c *Catalog) SupportsExtendedOutput(id string) bool {
	d, ok := c.models[strings.TrimSpace(id)]
	return ok && d.ExtendedOutput
}

func supportsExtendedOutput(id string) bool {
	return strings.Contains(id, "claude-3-7")
}
