// Package catalog describes the datasets of a workbook in CUE.
//
// A catalog names each dataset, the tab it lives in, the fields new rows
// must carry, the fields that identify a row, and the analysis to run:
//
//	dataset: Packlists: {
//		tab:      "Packlists"
//		required: ["Show", "Client", "Items"]
//		identity: ["Show", "Client"]
//		cross_reference: [{dataset: "Inventory", field: "Show", as: "stock"}]
//	}
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// Step names accepted in a dataset's steps list.
const (
	StepRequired   = "required"
	StepDuplicates = "duplicates"
)

// CrossReference counts matching rows of another dataset.
type CrossReference struct {
	Dataset string `json:"dataset"`
	Field   string `json:"field"`
	As      string `json:"as"`
}

// Dataset is one compiled dataset definition.
type Dataset struct {
	Name           string
	Tab            string
	Required       []string
	Identity       []string
	Steps          []string
	CrossReference []CrossReference
}

// Catalog is an ordered set of datasets.
type Catalog struct {
	Datasets []Dataset
}

// Lookup finds a dataset by name, then by tab.
func (c *Catalog) Lookup(name string) (Dataset, bool) {
	for _, d := range c.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range c.Datasets {
		if d.Tab == name {
			return d, true
		}
	}
	return Dataset{}, false
}

// CompileError is a catalog definition error with its CUE position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Compile builds a catalog from CUE source.
func Compile(src string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("catalog.cue"))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return build(ctx, v)
}

// LoadCatalog loads every CUE file of the package in dir.
func LoadCatalog(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog directory: not a directory: %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	ctx := cuecontext.New()
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return build(ctx, v)
}

// build unifies v with the schema and extracts the datasets.
func build(ctx *cue.Context, v cue.Value) (*Catalog, error) {
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The embedded schema is fixed; this is a build defect.
		panic(fmt.Sprintf("catalog: invalid embedded schema: %v", err))
	}

	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	cat := &Catalog{}
	datasets := v.LookupPath(cue.ParsePath("dataset"))
	if !datasets.Exists() {
		return cat, nil
	}

	iter, err := datasets.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		d, err := CompileDataset(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		cat.Datasets = append(cat.Datasets, *d)
	}

	if err := cat.validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// CompileDataset parses one dataset struct (already unified with the
// schema) into a Dataset.
func CompileDataset(name string, v cue.Value) (*Dataset, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	d := &Dataset{Name: name, Tab: name}

	if tabVal := v.LookupPath(cue.ParsePath("tab")); tabVal.Exists() {
		tab, err := tabVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d.Tab = tab
	}

	lists := []struct {
		field string
		dst   any
	}{
		{"required", &d.Required},
		{"identity", &d.Identity},
		{"steps", &d.Steps},
		{"cross_reference", &d.CrossReference},
	}
	for _, l := range lists {
		fv := v.LookupPath(cue.ParsePath(l.field))
		if !fv.Exists() {
			continue
		}
		if err := fv.Decode(l.dst); err != nil {
			return nil, &CompileError{
				Field:   "dataset." + name + "." + l.field,
				Message: err.Error(),
				Pos:     fv.Pos(),
			}
		}
	}
	return d, nil
}

// validate checks references between datasets.
func (c *Catalog) validate() error {
	seenTabs := make(map[string]string)
	for _, d := range c.Datasets {
		if other, ok := seenTabs[d.Tab]; ok {
			return &CompileError{
				Field:   "dataset." + d.Name + ".tab",
				Message: fmt.Sprintf("tab %q already used by dataset %q", d.Tab, other),
			}
		}
		seenTabs[d.Tab] = d.Name

		for _, ref := range d.CrossReference {
			if _, ok := c.Lookup(ref.Dataset); !ok {
				return &CompileError{
					Field:   "dataset." + d.Name + ".cross_reference",
					Message: fmt.Sprintf("unknown dataset %q", ref.Dataset),
				}
			}
		}
	}
	return nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
