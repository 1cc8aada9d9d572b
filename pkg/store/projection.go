package store

import (
	"fmt"
	"slices"
	"strings"
)

// Projection is a parsed select directive. Include and Exclude are only
// both set when the single exclusion is the id field.
type Projection struct {
	Include []string
	Exclude []string
}

// Empty reports whether the projection keeps every field.
func (p Projection) Empty() bool {
	return len(p.Include) == 0 && len(p.Exclude) == 0
}

// ParseProjection splits select fields into inclusions and "-field"
// exclusions. Mixing the two is rejected, except for excluding idField.
func ParseProjection(idField string, fields ...string) (Projection, error) {
	var p Projection
	excludeID := false
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if strings.HasPrefix(f, "-") {
			name := f[1:]
			if name == "" {
				continue
			}
			if name == idField {
				excludeID = true
			}
			p.Exclude = append(p.Exclude, name)
			continue
		}
		p.Include = append(p.Include, strings.TrimPrefix(f, "+"))
	}

	if len(p.Include) > 0 && len(p.Exclude) > 0 {
		if excludeID && len(p.Exclude) == 1 {
			return p, nil
		}
		return Projection{}, fmt.Errorf("%w: cannot mix inclusion and exclusion in select", ErrInvalidField)
	}
	return p, nil
}

// Apply copies rec keeping only the projected top-level fields. idField is
// kept in inclusion mode unless explicitly excluded; keep lists fields that
// survive regardless (populated paths).
func (p Projection) Apply(rec Record, idField string, keep ...string) Record {
	if p.Empty() {
		return rec
	}
	out := make(Record, len(rec))
	if len(p.Include) > 0 {
		fields := append([]string{idField}, p.Include...)
		fields = append(fields, keep...)
		for _, f := range fields {
			root, _, _ := strings.Cut(f, ".")
			if v, ok := rec[root]; ok {
				out[root] = v
			}
		}
		for _, f := range p.Exclude {
			delete(out, f)
		}
		return out
	}

	for k, v := range rec {
		out[k] = v
	}
	for _, f := range p.Exclude {
		if slices.Contains(keep, f) {
			continue
		}
		delete(out, f)
	}
	return out
}
