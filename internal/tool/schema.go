package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Minimum     *int   `json:"minimum,omitempty"`
	Maximum     *int   `json:"maximum,omitempty"`
}

type objectSchema struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

func mustSchema(props map[string]property, required ...string) []byte {
	raw, err := json.Marshal(objectSchema{Type: "object", Properties: props, Required: required})
	if err != nil {
		panic(err)
	}
	return raw
}

func intRange(lo, hi int) (*int, *int) {
	return &lo, &hi
}

// ArgumentError reports arguments that do not fit a capability schema.
type ArgumentError struct {
	Tool   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// decodeArgs decodes raw into out and checks that the required string fields
// are present and not blank. Unknown fields are ignored.
func decodeArgs(tool string, raw json.RawMessage, out any, required map[string]*string) error {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, out); err != nil {
			return &ArgumentError{Tool: tool, Reason: err.Error()}
		}
	}
	var missing []string
	for name, v := range required {
		if v == nil || strings.TrimSpace(*v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &ArgumentError{Tool: tool, Reason: "missing required field(s): " + strings.Join(missing, ", ")}
	}
	return nil
}

func clampInt(v, def, lo, hi int) int {
	if v == 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
