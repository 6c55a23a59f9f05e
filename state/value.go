package state

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Map is a mapping node of the state tree.
type Map = map[string]any

type absent struct{}

// Absent is the deletion marker. Merging it into a key removes the key; a
// merge diff carries it for every key that was removed.
var Absent any = absent{}

// IsAbsent reports whether v is the deletion marker
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// Validate checks that candidate is a plain, JSON-serializable mapping with
// no arrays or functions at any depth.
func Validate(candidate any) error {
	_, err := normalizeRoot(candidate)
	return err
}

func normalizeRoot(candidate any) (Map, error) {
	if candidate == nil {
		return nil, &ShapeError{Reason: "state must be a plain mapping, got null"}
	}
	if IsAbsent(candidate) {
		return nil, &ShapeError{Reason: "state must be a plain mapping, got the deletion marker"}
	}

	rv := reflect.ValueOf(candidate)
	if rv.Kind() != reflect.Map {
		return nil, &ShapeError{Reason: describeNonMapping(candidate)}
	}

	n := &normalizer{seen: make(map[uintptr]struct{})}
	out, err := n.value(candidate, nil)
	if err != nil {
		return nil, err
	}
	return out.(Map), nil
}

func describeNonMapping(v any) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return "state must be a plain mapping, got an array"
	case reflect.Func:
		return "state must be a plain mapping, got a function"
	case reflect.Struct, reflect.Pointer:
		return "state must be a plain mapping, got a constructed value of type " + rv.Type().String()
	default:
		return "state must be a plain mapping, got " + rv.Type().String()
	}
}

// normalizer converts an arbitrary Go value into the canonical tree form:
// Map, float64, string, bool, nil and Absent. It tracks the maps on the
// current path to reject cycles, which JSON cannot express.
type normalizer struct {
	seen map[uintptr]struct{}
}

func (n *normalizer) value(v any, path []string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case absent:
		return Absent, nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case float64:
		return normalizeFloat(x, path)
	case float32:
		return normalizeFloat(float64(x), path)
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil {
			return nil, shapeErrorAt(path, "number "+strconv.Quote(string(x))+" is not representable")
		}
		return normalizeFloat(f, path)
	case Map:
		return n.mapping(reflect.ValueOf(x), path)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float(), path)
	case reflect.Map:
		return n.mapping(rv, path)
	case reflect.Slice, reflect.Array:
		return nil, shapeErrorAt(path, "arrays are not supported")
	case reflect.Func:
		return nil, shapeErrorAt(path, "function values are not supported")
	default:
		return nil, shapeErrorAt(path, "value of type "+rv.Type().String()+" is not JSON-serializable")
	}
}

func (n *normalizer) mapping(rv reflect.Value, path []string) (any, error) {
	if rv.Type().Key().Kind() != reflect.String {
		return nil, shapeErrorAt(path, "mapping keys must be strings, got "+rv.Type().Key().String())
	}

	out := make(Map, rv.Len())
	if rv.IsNil() {
		return out, nil
	}

	ptr := rv.Pointer()
	if _, cyclic := n.seen[ptr]; cyclic {
		return nil, shapeErrorAt(path, "cyclic mapping is not JSON-serializable")
	}
	n.seen[ptr] = struct{}{}
	defer delete(n.seen, ptr)

	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		child, err := n.value(iter.Value().Interface(), append(path[:len(path):len(path)], key))
		if err != nil {
			return nil, err
		}
		out[key] = child
	}
	return out, nil
}

func normalizeFloat(f float64, path []string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, shapeErrorAt(path, "NaN and Inf are not JSON-serializable")
	}
	if f == 0 {
		// -0 and 0 serialize identically
		return float64(0), nil
	}
	return f, nil
}

// Equal reports whether two normalized values are structurally equal.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case absent:
		return IsAbsent(b)
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, present := y[k]
			if !present || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone deep-copies a normalized tree.
func Clone(m Map) Map {
	if m == nil {
		return nil
	}
	out := make(Map, len(m))
	for k, v := range m {
		if child, ok := v.(Map); ok {
			out[k] = Clone(child)
			continue
		}
		out[k] = v
	}
	return out
}

// stripAbsent deep-copies m dropping deletion markers; used when a subtree
// is written where no mapping existed before.
func stripAbsent(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		switch x := v.(type) {
		case absent:
			continue
		case Map:
			out[k] = stripAbsent(x)
		default:
			out[k] = v
		}
	}
	return out
}

// Paths returns the sorted dotted paths of every leaf in m; empty mappings
// count as leaves. Used for logging diffs.
func Paths(m Map) []string {
	var out []string
	var walk func(prefix []string, node Map)
	walk = func(prefix []string, node Map) {
		for k, v := range node {
			p := append(prefix[:len(prefix):len(prefix)], k)
			if child, ok := v.(Map); ok && len(child) > 0 {
				walk(p, child)
				continue
			}
			out = append(out, strings.Join(p, "."))
		}
	}
	walk(nil, m)
	sort.Strings(out)
	return out
}
