package contracts

import (
	"fmt"
	"sort"
	"strings"
)

// ParamDiff is the key-wise difference between a build's parameters and a
// reference build's parameters.
type ParamDiff struct {
	Added   map[string]string
	Removed map[string]string
	Changed map[string]ParameterChange
}

// DiffParams compares current against reference. Added keys exist only in
// current; removed keys exist only in reference.
func DiffParams(current, reference map[string]string) ParamDiff {
	d := ParamDiff{
		Added:   make(map[string]string),
		Removed: make(map[string]string),
		Changed: make(map[string]ParameterChange),
	}
	for k, v := range current {
		old, ok := reference[k]
		switch {
		case !ok:
			d.Added[k] = v
		case old != v:
			d.Changed[k] = ParameterChange{Old: old, New: v}
		}
	}
	for k, v := range reference {
		if _, ok := current[k]; !ok {
			d.Removed[k] = v
		}
	}
	return d
}

// Empty reports whether nothing differs.
func (d ParamDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Flatten renders the diff as a deterministic key/value set, suitable for
// fingerprinting.
func (d ParamDiff) Flatten() map[string]string {
	out := make(map[string]string, len(d.Added)+len(d.Removed)+len(d.Changed))
	for k, v := range d.Added {
		out["added:"+k] = v
	}
	for k, v := range d.Removed {
		out["removed:"+k] = v
	}
	for k, c := range d.Changed {
		out["changed:"+k] = c.Old + "->" + c.New
	}
	return out
}

// String renders the diff sorted by key, e.g. "env: prod -> staging; +debug=true".
func (d ParamDiff) String() string {
	var parts []string
	for k, c := range d.Changed {
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", k, c.Old, c.New))
	}
	for k, v := range d.Added {
		parts = append(parts, fmt.Sprintf("+%s=%s", k, v))
	}
	for k, v := range d.Removed {
		parts = append(parts, fmt.Sprintf("-%s=%s", k, v))
	}
	sort.Slice(parts, func(i, j int) bool {
		return strings.TrimLeft(parts[i], "+-") < strings.TrimLeft(parts[j], "+-")
	})
	if len(parts) == 0 {
		return "no differences"
	}
	return strings.Join(parts, "; ")
}
