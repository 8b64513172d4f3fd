package merge

import "strconv"

// DeepCopy clones JSON-shaped data (maps, slices, scalars).
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = DeepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = DeepCopy(e)
		}
		return out
	default:
		return v
	}
}

// setPath writes a value at a diff path, creating intermediate
// containers as needed. Numeric path elements address slice indexes;
// slices grow with nil padding when an index is past the end, so arrays
// are reconstructed from their diff encoding: each numeric index
// present in the diff receives its final element.
func setPath(root map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	// The root is always a property map, never a slice.
	if len(path) == 1 {
		root[path[0]] = value
		return
	}
	root[path[0]] = setIn(root[path[0]], path[1:], value)
}

func setIn(cur any, path []string, value any) any {
	if len(path) == 0 {
		return value
	}
	seg := path[0]
	switch c := cur.(type) {
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 {
			return c
		}
		for len(c) <= i {
			c = append(c, nil)
		}
		c[i] = setIn(c[i], path[1:], value)
		return c
	case map[string]any:
		c[seg] = setIn(c[seg], path[1:], value)
		return c
	default:
		// nil or scalar: create the container the segment implies.
		if i, err := strconv.Atoi(seg); err == nil && i >= 0 {
			s := make([]any, i+1)
			s[i] = setIn(nil, path[1:], value)
			return s
		}
		return map[string]any{seg: setIn(nil, path[1:], value)}
	}
}

// deletePath removes the value at a diff path. Slice elements are
// nilled rather than spliced so later indexes in the same changelog
// stay addressable.
func deletePath(root map[string]any, path []string) {
	delIn(root, path)
}

func delIn(cur any, path []string) {
	if len(path) == 0 {
		return
	}
	seg := path[0]
	switch c := cur.(type) {
	case map[string]any:
		if len(path) == 1 {
			delete(c, seg)
			return
		}
		delIn(c[seg], path[1:])
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(c) {
			return
		}
		if len(path) == 1 {
			c[i] = nil
			return
		}
		delIn(c[i], path[1:])
	}
}
