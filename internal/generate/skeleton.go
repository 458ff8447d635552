package generate

import (
	"fmt"

	"specforge/internal/ir"
	"specforge/internal/logging"
)

// SynthesizeSkeleton produces the minimal tree the repair loop can work
// against when generation fails outright: empty model structs and an
// entrypoint, no routes. Failure details stay in the logs and the run
// report; they are never written into the artifact itself.
func SynthesizeSkeleton(app *ir.ApplicationIR) map[string][]byte {
	files := map[string][]byte{
		"main.go": []byte("package main\n\nfunc main() {}\n"),
	}

	for _, entity := range app.Domain.Entities {
		path := fmt.Sprintf("models/%s.go", ir.ToSnakeCase(entity.Name))
		goName := ir.ToCamelCase(ir.ToSnakeCase(entity.Name))
		files[path] = []byte(fmt.Sprintf("package models\n\ntype %s struct {\n}\n", goName))
	}

	logging.Generation("synthesized skeleton with %d files", len(files))
	return files
}
