// Package extract parses generated Go source into a structural model:
// entity structs with their field tags, and the route table registered
// in the HTTP surface. Parsing goes through tree-sitter and is memoized
// per file content hash, so unchanged files are never re-parsed across
// scoring passes.
package extract

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"

	"specforge/internal/ir"
	"specforge/internal/logging"
	"specforge/internal/tree"
)

// Field is one struct field of a generated entity model.
type Field struct {
	Name        string
	GoType      string
	JSONName    string
	Constraints []ir.Constraint
	Default     string
}

// MatchesAttribute reports whether this field implements the named spec
// attribute, comparing the json tag name first and the Go field name
// as a fallback.
func (f Field) MatchesAttribute(name string) bool {
	if f.JSONName != "" && ir.SameName(f.JSONName, name) {
		return true
	}
	return ir.SameName(f.Name, name)
}

// Model is one entity struct found in generated code.
type Model struct {
	Entity string
	File   string
	Fields []Field
}

// Field returns the field implementing the named attribute, or nil.
func (m *Model) Field(name string) *Field {
	for i := range m.Fields {
		if m.Fields[i].MatchesAttribute(name) {
			return &m.Fields[i]
		}
	}
	return nil
}

// Route is one HTTP route registered in generated code.
type Route struct {
	Method string
	Path   string
	File   string
}

// Snapshot is the full structural model of the generated tree.
type Snapshot struct {
	Models []Model
	Routes []Route
}

// Model returns the model implementing the named entity, or nil.
func (s *Snapshot) Model(entity string) *Model {
	for i := range s.Models {
		if ir.SameName(s.Models[i].Entity, entity) {
			return &s.Models[i]
		}
	}
	return nil
}

type fileArtifacts struct {
	models []Model
	routes []Route
}

// Extractor builds Snapshots from a file tree.
type Extractor struct {
	tree *tree.FileTree

	mu   sync.Mutex
	memo map[string]fileArtifacts
}

// New creates an Extractor over the given tree.
func New(t *tree.FileTree) *Extractor {
	return &Extractor{
		tree: t,
		memo: make(map[string]fileArtifacts),
	}
}

// Extract parses every Go file in the tree and assembles the snapshot.
func (e *Extractor) Extract(ctx context.Context) (*Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "Extract")
	defer timer.Stop()

	files, err := e.tree.Files()
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		artifacts, err := e.extractFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", path, err)
		}
		snapshot.Models = append(snapshot.Models, artifacts.models...)
		snapshot.Routes = append(snapshot.Routes, artifacts.routes...)
	}

	logging.Extract("extracted %d models and %d routes from %d files",
		len(snapshot.Models), len(snapshot.Routes), len(files))
	return snapshot, nil
}

func (e *Extractor) extractFile(ctx context.Context, path string) (fileArtifacts, error) {
	hash, err := e.tree.Hash(path)
	if err != nil {
		return fileArtifacts{}, err
	}

	key := path + "@" + hash
	e.mu.Lock()
	if cached, ok := e.memo[key]; ok {
		e.mu.Unlock()
		logging.ExtractDebug("parse memo hit: %s", key)
		return cached, nil
	}
	e.mu.Unlock()

	content, err := e.tree.Read(path)
	if err != nil {
		return fileArtifacts{}, err
	}

	start := time.Now()
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	parsed, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fileArtifacts{}, fmt.Errorf("parse failed: %w", err)
	}
	defer parsed.Close()

	artifacts := walkFile(parsed.RootNode(), path, content)
	logging.ExtractDebug("parsed %s: %d models, %d routes in %v",
		path, len(artifacts.models), len(artifacts.routes), time.Since(start))

	e.mu.Lock()
	e.memo[key] = artifacts
	e.mu.Unlock()
	return artifacts, nil
}

// MemoSize returns the number of memoized parse results.
func (e *Extractor) MemoSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.memo)
}

func walkFile(root *sitter.Node, path string, content []byte) fileArtifacts {
	var artifacts fileArtifacts

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "type_declaration":
			artifacts.models = append(artifacts.models, structsFromDecl(n, path, content)...)
		case "call_expression":
			if route, ok := routeFromCall(n, path, content); ok {
				artifacts.routes = append(artifacts.routes, route)
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return artifacts
}

func structsFromDecl(decl *sitter.Node, path string, content []byte) []Model {
	var models []Model
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		spec := decl.NamedChild(i)
		if spec.Type() != "type_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		typeNode := spec.ChildByFieldName("type")
		if nameNode == nil || typeNode == nil || typeNode.Type() != "struct_type" {
			continue
		}

		model := Model{
			Entity: nameNode.Content(content),
			File:   path,
		}

		fieldList := typeNode.ChildByFieldName("fields")
		if fieldList != nil {
			for j := 0; j < int(fieldList.NamedChildCount()); j++ {
				fieldDecl := fieldList.NamedChild(j)
				if fieldDecl.Type() != "field_declaration" {
					continue
				}
				if field, ok := fieldFromDecl(fieldDecl, content); ok {
					model.Fields = append(model.Fields, field)
				}
			}
		}
		models = append(models, model)
	}
	return models
}

func fieldFromDecl(decl *sitter.Node, content []byte) (Field, bool) {
	nameNode := decl.ChildByFieldName("name")
	typeNode := decl.ChildByFieldName("type")
	if nameNode == nil || typeNode == nil {
		// Embedded field, no attribute to score against.
		return Field{}, false
	}

	field := Field{
		Name:   nameNode.Content(content),
		GoType: typeNode.Content(content),
	}

	if tagNode := decl.ChildByFieldName("tag"); tagNode != nil {
		raw := strings.Trim(tagNode.Content(content), "`")
		tag := reflect.StructTag(raw)
		field.JSONName = jsonTagName(tag.Get("json"))
		field.Constraints = ParseValidateTag(tag.Get("validate"))
		field.Default = tag.Get("default")
	}

	return field, true
}

func jsonTagName(tag string) string {
	if tag == "" || tag == "-" {
		return ""
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}

// ParseValidateTag converts a validator tag value into constraints.
// Unknown directives such as omitempty or dive are skipped rather than
// surfaced as spurious constraints.
func ParseValidateTag(tag string) []ir.Constraint {
	if tag == "" {
		return nil
	}

	var constraints []ir.Constraint
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, param, _ := strings.Cut(part, "=")
		c, err := ir.NormalizeConstraint(kind + paramSuffix(param))
		if err != nil {
			logging.ExtractDebug("skipping validator directive %q: %v", part, err)
			continue
		}
		c.Source = "validate tag"
		constraints = append(constraints, c)
	}
	return constraints
}

func paramSuffix(param string) string {
	if param == "" {
		return ""
	}
	return "=" + param
}

// routeFromCall recognizes mux registration calls of the form
// HandleFunc("METHOD /path", handler).
func routeFromCall(call *sitter.Node, path string, content []byte) (Route, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil || !strings.HasSuffix(fn.Content(content), "HandleFunc") {
		return Route{}, false
	}

	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return Route{}, false
	}

	first := args.NamedChild(0)
	if first.Type() != "interpreted_string_literal" && first.Type() != "raw_string_literal" {
		return Route{}, false
	}

	pattern := strings.Trim(first.Content(content), "`\"")
	method, routePath, ok := strings.Cut(pattern, " ")
	if !ok || !strings.HasPrefix(routePath, "/") {
		return Route{}, false
	}

	return Route{
		Method: strings.ToUpper(method),
		Path:   routePath,
		File:   path,
	}, true
}
