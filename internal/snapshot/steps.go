package snapshot

import (
	"context"
	"strings"

	"github.com/roach88/tabula/internal/row"
)

// Derived keys written by the built-in steps.
const (
	DerivedMissing    = "missing"
	DerivedDuplicates = "duplicates"
)

// RequiredFieldsStep derives DerivedMissing: a comma separated list of the
// given fields that are empty on the row ("" when none are).
func RequiredFieldsStep(fields ...string) Step {
	return Step{
		Message: "Checking required fields...",
		Fn: func(_ context.Context, r *row.Row, _ *Store) error {
			var missing []string
			for _, f := range fields {
				v, _ := r.Get(f)
				if row.IsEmpty(v) {
					missing = append(missing, f)
				}
			}
			r.SetDerived(DerivedMissing, row.String(strings.Join(missing, ", ")))
			return nil
		},
	}
}

// DuplicateStep derives DerivedDuplicates: how many other rows of the same
// store share the row's values on fields. Rows marked for deletion and rows
// whose fields are all empty are never counted.
func DuplicateStep(fields ...string) Step {
	return Step{
		Message: "Checking for duplicates...",
		Fn: func(ctx context.Context, r *row.Row, s *Store) error {
			key, ok := identityKey(r, fields)
			if !ok {
				r.SetDerived(DerivedDuplicates, row.Int(0))
				return nil
			}
			n := 0
			for _, other := range s.Data().Rows() {
				if err := ctx.Err(); err != nil {
					return err
				}
				if other == r || other.App().MarkedForDeletion {
					continue
				}
				if k, ok := identityKey(other, fields); ok && k == key {
					n++
				}
			}
			r.SetDerived(DerivedDuplicates, row.Int(n))
			return nil
		},
	}
}

// CrossReferenceStep derives key: how many rows of other carry the same
// text in field as the row being analyzed.
func CrossReferenceStep(other *Store, field, key string) Step {
	return Step{
		Message: "Cross-referencing " + field + "...",
		Fn: func(_ context.Context, r *row.Row, _ *Store) error {
			want := strings.TrimSpace(r.Text(field))
			n := 0
			if want != "" {
				for _, o := range other.Data().Rows() {
					if strings.TrimSpace(o.Text(field)) == want {
						n++
					}
				}
			}
			r.SetDerived(key, row.Int(n))
			return nil
		},
	}
}

// identityKey joins the trimmed text of fields. ok is false when every
// field is empty.
func identityKey(r *row.Row, fields []string) (string, bool) {
	parts := make([]string, len(fields))
	ok := false
	for i, f := range fields {
		parts[i] = strings.TrimSpace(r.Text(f))
		if parts[i] != "" {
			ok = true
		}
	}
	return strings.Join(parts, "\x1f"), ok
}
