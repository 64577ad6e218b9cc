package props

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Entry is a single property's resolved state: either an explicit value, or
// a dynamic (present-but-unresolved) marker, plus any attached aspects.
type Entry struct {
	Dynamic bool
	Value   Value
	Aspects map[string]string
}

// Set is a mapping from dotted property name to Entry, per spec.md §3.
type Set struct {
	entries map[string]Entry
}

// NewSet returns an empty property set.
func NewSet() *Set {
	return &Set{entries: make(map[string]Entry)}
}

// Clone returns a deep copy of the set.
func (s *Set) Clone() *Set {
	if s == nil {
		return NewSet()
	}
	out := NewSet()
	for k, e := range s.entries {
		clone := e
		if e.Aspects != nil {
			clone.Aspects = make(map[string]string, len(e.Aspects))
			for ak, av := range e.Aspects {
				clone.Aspects[ak] = av
			}
		}
		out.entries[k] = clone
	}
	return out
}

// Set stores an explicit value under name, overwriting any dynamic marker or
// prior value. Duplicate keys take the later value, per spec.md §4.2.
func (s *Set) Set(name string, v Value) {
	e := s.entries[name]
	e.Dynamic = false
	e.Value = v
	s.entries[name] = e
}

// SetDynamic marks name as present but unresolved.
func (s *Set) SetDynamic(name string) {
	e := s.entries[name]
	e.Dynamic = true
	s.entries[name] = e
}

// SetAspect attaches an auxiliary key/value facet to name, addressable as
// name[aspect] per spec.md's glossary.
func (s *Set) SetAspect(name, aspect, value string) {
	e := s.entries[name]
	if e.Aspects == nil {
		e.Aspects = make(map[string]string)
	}
	e.Aspects[aspect] = value
	s.entries[name] = e
}

// Lookup returns the entry for name and whether it is present at all
// (explicit or dynamic).
func (s *Set) Lookup(name string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.entries[name]
	return e, ok
}

// Aspect returns the named aspect's value for a property, if present.
func (s *Set) Aspect(name, aspect string) (string, bool) {
	e, ok := s.Lookup(name)
	if !ok || e.Aspects == nil {
		return "", false
	}
	v, ok := e.Aspects[aspect]
	return v, ok
}

// Names returns a sorted slice of every property name in the set.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.entries))
	for k := range s.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// FromAssertions builds a Set from a flat list of "key=value" assertion
// strings, as described in spec.md §4.1.
func FromAssertions(assertions []string) (*Set, error) {
	set := NewSet()
	for _, a := range assertions {
		idx := strings.IndexByte(a, '=')
		if idx < 0 {
			return nil, &InvalidLiteralError{Fragment: a, Reason: "assertion missing '='"}
		}
		key := strings.TrimSpace(a[:idx])
		literal := strings.TrimSpace(a[idx+1:])
		if key == "*" || literal == "*" {
			set.SetDynamic(key)
			continue
		}
		val, err := ParseLiteral(literal)
		if err != nil {
			return nil, err
		}
		set.Set(key, val)
	}
	return set, nil
}

// FromJSON builds a Set from a nested JSON document, flattening nested
// objects to dotted keys. A single trailing "@tag" suffix on the final key
// segment carries a typed variant hint (e.g. "…version@v" => semver), per
// spec.md §4.1.
func FromJSON(doc []byte) (*Set, error) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return nil, &InvalidLiteralError{Fragment: string(doc), Reason: "not a JSON object: " + err.Error()}
	}
	set := NewSet()
	if err := flatten(set, "", decoded); err != nil {
		return nil, err
	}
	return set, nil
}

func flatten(set *Set, prefix string, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, sub := range v {
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}
			if err := flatten(set, full, sub); err != nil {
				return err
			}
		}
		return nil
	case nil:
		set.SetDynamic(prefix)
		return nil
	default:
		val, err := coerceJSONLeaf(prefix, v)
		if err != nil {
			return err
		}
		name, _ := splitTag(prefix)
		set.Set(name, val)
		return nil
	}
}

// splitTag splits a "name@tag" key into its base name and optional tag.
func splitTag(key string) (string, string) {
	idx := strings.LastIndexByte(key, '@')
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

func coerceJSONLeaf(key string, v interface{}) (Value, error) {
	_, tag := splitTag(key)
	switch t := v.(type) {
	case string:
		switch tag {
		case "v":
			canonical := t
			if !strings.HasPrefix(canonical, "v") {
				canonical = "v" + canonical
			}
			return Version(canonical), nil
		case "t":
			return ParseLiteral(`t"` + t + `"`)
		case "d":
			return ParseLiteral(`d"` + t + `"`)
		default:
			return String(t), nil
		}
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case []interface{}:
		values := make([]Value, 0, len(t))
		for _, elem := range t {
			val, err := coerceJSONLeaf(key, elem)
			if err != nil {
				return Value{}, err
			}
			values = append(values, val)
		}
		return List(values...), nil
	default:
		return Value{}, &InvalidLiteralError{Fragment: fmt.Sprintf("%v", v), Reason: "unsupported JSON leaf type"}
	}
}

// formatNumber renders a float without an unnecessary trailing ".0" so
// canonicalized property documents hash stably.
func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}
