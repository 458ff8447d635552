package repair

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"specforge/internal/compliance"
	"specforge/internal/generate"
	"specforge/internal/ir"
	"specforge/internal/logging"
	"specforge/internal/tree"
)

// constraintAllowList names the constraint kinds the generated
// declaration format can express. Anything else is rejected outright
// instead of being written into a tag it would corrupt.
var constraintAllowList = map[ir.ConstraintKind]bool{
	ir.KindRequired: true,
	ir.KindMin:      true,
	ir.KindMax:      true,
	ir.KindGT:       true,
	ir.KindGTE:      true,
	ir.KindLT:       true,
	ir.KindLTE:      true,
	ir.KindLen:      true,
	ir.KindOneOf:    true,
	ir.KindEmail:    true,
	ir.KindUUID:     true,
}

// AddEntity writes a fresh model file for an entity with no generated
// type.
type AddEntity struct{}

func (s *AddEntity) Name() string { return "AddEntity" }

func (s *AddEntity) Apply(ctx context.Context, app *ir.ApplicationIR, gap compliance.Gap, t *tree.FileTree) (Outcome, error) {
	entity := app.Domain.Entity(gap.Entity)
	if entity == nil {
		return skipped(fmt.Sprintf("entity %q not found in IR", gap.Entity)), nil
	}

	path := modelPath(entity.Name)
	if t.Exists(path) {
		// The file is there but extraction found no matching struct.
		// Overwriting could destroy hand-written content.
		return skipped(fmt.Sprintf("%s already exists but declares no %s model", path, entity.Name)), nil
	}

	content, err := generate.RenderModel(*entity)
	if err != nil {
		return Outcome{}, err
	}
	if err := t.Write(path, content); err != nil {
		return Outcome{}, err
	}
	logging.Repair("AddEntity: created %s", path)
	return applied(path), nil
}

// AddEndpoint registers a missing route in the route table.
type AddEndpoint struct{}

func (s *AddEndpoint) Name() string { return "AddEndpoint" }

const routesFile = "routes.go"
const registerMarker = "func registerRoutes(mux *http.ServeMux) {"

func (s *AddEndpoint) Apply(ctx context.Context, app *ir.ApplicationIR, gap compliance.Gap, t *tree.FileTree) (Outcome, error) {
	ep := gap.Endpoint
	if ep == nil {
		return skipped("gap carries no endpoint"), nil
	}
	if !ep.TargetsEntity(gap.Entity) {
		return skipped(fmt.Sprintf("entity %q is outside the valid target set for %s %s",
			gap.Entity, ep.Method, ep.Path)), nil
	}

	if !t.Exists(routesFile) {
		content, err := generate.RenderRoutes([]ir.Endpoint{*ep})
		if err != nil {
			return Outcome{}, err
		}
		if err := t.Write(routesFile, content); err != nil {
			return Outcome{}, err
		}
		logging.Repair("AddEndpoint: created %s with %s %s", routesFile, ep.Method, ep.Path)
		return applied(routesFile), nil
	}

	raw, err := t.Read(routesFile)
	if err != nil {
		return Outcome{}, err
	}
	content := string(raw)

	pattern := fmt.Sprintf("%s %s", ep.Method, ep.Path)
	if strings.Contains(content, fmt.Sprintf("%q", pattern)) {
		return skipped(fmt.Sprintf("route %s already registered", pattern)), nil
	}

	idx := strings.Index(content, registerMarker)
	if idx < 0 {
		return skipped("no route registration block found in routes.go"), nil
	}

	handler := generate.HandlerName(*ep)
	insertAt := idx + len(registerMarker)
	registration := fmt.Sprintf("\n\tmux.HandleFunc(%q, %s)", pattern, handler)
	content = content[:insertAt] + registration + content[insertAt:]

	if !strings.Contains(content, "func "+handler+"(") {
		content += fmt.Sprintf("\nfunc %s(w http.ResponseWriter, r *http.Request) {\n\tw.WriteHeader(http.StatusNotImplemented)\n}\n", handler)
	}

	if err := t.Write(routesFile, []byte(content)); err != nil {
		return Outcome{}, err
	}
	logging.Repair("AddEndpoint: registered %s", pattern)
	return applied(routesFile), nil
}

// AddConstraint appends a missing constraint to a field's validator tag.
type AddConstraint struct{}

func (s *AddConstraint) Name() string { return "AddConstraint" }

func (s *AddConstraint) Apply(ctx context.Context, app *ir.ApplicationIR, gap compliance.Gap, t *tree.FileTree) (Outcome, error) {
	c := gap.Constraint
	if !constraintAllowList[c.Kind] {
		return skipped(fmt.Sprintf("constraint kind %q is not supported by the declaration format", c.Kind)), nil
	}
	if ir.NumericKinds[c.Kind] {
		if _, err := strconv.ParseFloat(c.Param, 64); err != nil {
			return skipped(fmt.Sprintf("numeric constraint %s requires a numeric parameter, got %q", c.Kind, c.Param)), nil
		}
	}

	directive := string(c.Kind)
	if c.Param != "" {
		directive += "=" + c.Param
	}

	path := modelPath(gap.Entity)
	edited, outcome, err := editFieldLine(t, path, gap.Attribute, func(line string) (string, string) {
		return addValidateDirective(line, directive)
	})
	if err != nil || !outcome.Applied {
		return outcome, err
	}
	if err := t.Write(path, edited); err != nil {
		return Outcome{}, err
	}
	logging.Repair("AddConstraint: %s.%s += %s", gap.Entity, gap.Attribute, directive)
	return applied(path), nil
}

// FixDefault rewrites a field's default tag to the IR's declared value.
type FixDefault struct{}

func (s *FixDefault) Name() string { return "FixDefault" }

func (s *FixDefault) Apply(ctx context.Context, app *ir.ApplicationIR, gap compliance.Gap, t *tree.FileTree) (Outcome, error) {
	if gap.Expected == "" {
		return skipped("no expected default recorded on gap"), nil
	}

	path := modelPath(gap.Entity)
	edited, outcome, err := editFieldLine(t, path, gap.Attribute, func(line string) (string, string) {
		return setDefaultTag(line, gap.Expected)
	})
	if err != nil || !outcome.Applied {
		return outcome, err
	}
	if err := t.Write(path, edited); err != nil {
		return Outcome{}, err
	}
	logging.Repair("FixDefault: %s.%s = %q", gap.Entity, gap.Attribute, gap.Expected)
	return applied(path), nil
}

func modelPath(entity string) string {
	return "models/" + ir.ToSnakeCase(entity) + ".go"
}

// editFieldLine locates the struct field line carrying the attribute's
// json tag and applies the edit to it. The edit returns the rewritten
// line, or the untouched line and the reason it was left alone.
func editFieldLine(t *tree.FileTree, path, attribute string, edit func(string) (string, string)) ([]byte, Outcome, error) {
	if !t.Exists(path) {
		return nil, skipped(fmt.Sprintf("%s does not exist", path)), nil
	}
	raw, err := t.Read(path)
	if err != nil {
		return nil, Outcome{}, err
	}

	jsonName := ir.ToSnakeCase(attribute)
	markers := []string{
		fmt.Sprintf("json:%q", jsonName),
		fmt.Sprintf("json:%q", jsonName+"_id"),
	}

	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		for _, marker := range markers {
			if !strings.Contains(line, marker) {
				continue
			}
			edited, reason := edit(line)
			if reason != "" {
				return nil, skipped(fmt.Sprintf("field %q in %s: %s", attribute, path, reason)), nil
			}
			lines[i] = edited
			return []byte(strings.Join(lines, "\n")), Outcome{Applied: true}, nil
		}
	}
	return nil, skipped(fmt.Sprintf("no field with json tag %q in %s", jsonName, path)), nil
}

// addValidateDirective appends a directive to the line's validate tag,
// creating the tag if absent.
func addValidateDirective(line, directive string) (string, string) {
	if tag, ok := tagValue(line, "validate"); ok {
		if hasDirective(tag, directive) {
			return line, fmt.Sprintf("directive %q already present", directive)
		}
		return strings.Replace(line, `validate:"`+tag+`"`, `validate:"`+tag+`,`+directive+`"`, 1), ""
	}
	if tag, ok := tagValue(line, "json"); ok {
		old := `json:"` + tag + `"`
		return strings.Replace(line, old, old+` validate:"`+directive+`"`, 1), ""
	}
	return line, "no struct tag to attach the directive to"
}

// setDefaultTag rewrites or inserts the default tag on the line.
func setDefaultTag(line, value string) (string, string) {
	if tag, ok := tagValue(line, "default"); ok {
		if tag == value {
			return line, fmt.Sprintf("default is already %q", value)
		}
		return strings.Replace(line, `default:"`+tag+`"`, `default:"`+value+`"`, 1), ""
	}
	// Insert just before the closing backtick.
	end := strings.LastIndex(line, "`")
	start := strings.Index(line, "`")
	if end <= start {
		return line, "field carries no struct tag to hold a default"
	}
	return line[:end] + ` default:"` + value + `"` + line[end:], ""
}

// tagValue extracts the value of a struct tag key from a source line.
func tagValue(line, key string) (string, bool) {
	marker := key + `:"`
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	tail := line[idx+len(marker):]
	end := strings.Index(tail, `"`)
	if end < 0 {
		return "", false
	}
	return tail[:end], true
}

func hasDirective(tag, directive string) bool {
	for _, part := range strings.Split(tag, ",") {
		if strings.TrimSpace(part) == directive {
			return true
		}
	}
	return false
}
