// Package probe decodes the state a Bevy debuggee publishes for the
// debugger at its safe point.
package probe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	integerRe = regexp.MustCompile(`\b(0[xX][0-9a-fA-F]+|[0-9]+)\b`)
	hexRe     = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)
)

// ParseInteger extracts the first integer literal from an evaluate result
// such as "42", "(usize) 42" or "{v:{value:0x2a}}".
func ParseInteger(s string) (uint64, error) {
	m := integerRe.FindString(s)
	if m == "" {
		return 0, fmt.Errorf("no integer in %q", s)
	}
	if strings.HasPrefix(m, "0x") || strings.HasPrefix(m, "0X") {
		return strconv.ParseUint(m[2:], 16, 64)
	}
	return strconv.ParseUint(m, 10, 64)
}

// ParseHexAddress returns the first 0x-prefixed hexadecimal number in s.
func ParseHexAddress(s string) (uint64, bool) {
	m := hexRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(m[2:], 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Sections selects the parts of a snapshot to keep.
type Sections struct {
	Entities   bool
	Components bool
	Resources  bool
}

// DefaultSections returns entities and components, without resources.
func DefaultSections() Sections {
	return Sections{Entities: true, Components: true}
}

var sectionKeys = map[string]func(Sections) bool{
	"entities":           func(s Sections) bool { return s.Entities },
	"entity_count":       func(s Sections) bool { return s.Entities },
	"components":         func(s Sections) bool { return s.Components },
	"component_counts":   func(s Sections) bool { return s.Components },
	"resources":          func(s Sections) bool { return s.Resources },
	"resource_summaries": func(s Sections) bool { return s.Resources },
}

var errEmptySnapshot = errors.New("snapshot is empty")

// Decode parses the JSON snapshot in data, ignoring trailing NUL padding,
// and drops the sections not selected. Keys that do not belong to a
// section are always kept.
func Decode(data []byte, sections Sections) (map[string]interface{}, error) {
	data = bytes.TrimRight(data, "\x00")
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errEmptySnapshot
	}
	var v map[string]interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("snapshot is not a JSON object: %v", err)
	}
	for k := range v {
		if keep, ok := sectionKeys[k]; ok && !keep(sections) {
			delete(v, k)
		}
	}
	return v, nil
}
