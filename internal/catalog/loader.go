package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

//go:embed schema.cue
var schemaCUE string

// LoadDir loads menu CUE files from a directory, validates them against
// the embedded #MenuItem schema, and builds a Catalog.
//
// All .cue files in the directory are loaded as one instance, so a menu
// may be split across files (breakfast.cue, drinks.cue, ...) that each
// contribute to the items list.
func LoadDir(dir string) (*Catalog, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("menu directory not found: %s", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("error accessing menu directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("error scanning menu directory: %w", err)
	}
	if len(cueFiles) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compiling menu schema: %w", err)
	}

	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading menu files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building menu value: %w", err)
	}

	// Unifying with the schema enforces #MenuItem on every entry.
	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("menu does not satisfy schema: %w", err)
	}

	itemsVal := unified.LookupPath(cue.ParsePath("items"))
	if !itemsVal.Exists() {
		return nil, fmt.Errorf("no items list found in %s", dir)
	}

	var items []Item
	if err := itemsVal.Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding menu items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("menu in %s has no items", dir)
	}

	return New(items)
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
