package generate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"specforge/internal/ir"
)

var modelTemplate = template.Must(template.New("model").Parse(`package models
{{- if .NeedsTime}}

import "time"
{{- end}}
{{- if .Doc}}

// {{.GoName}} {{.Doc}}
{{- end}}

type {{.GoName}} struct {
{{- range .Fields}}
	{{.Name}} {{.GoType}} ` + "`{{.Tag}}`" + `
{{- end}}
}
`))

var routesTemplate = template.Must(template.New("routes").Parse(`package main

import "net/http"

func registerRoutes(mux *http.ServeMux) {
{{- range .Routes}}
	mux.HandleFunc("{{.Method}} {{.Path}}", {{.Handler}})
{{- end}}
}
{{range .Handlers}}
func {{.}}(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotImplemented)
}
{{end}}`))

type modelField struct {
	Name   string
	GoType string
	Tag    string
}

type modelData struct {
	GoName    string
	Doc       string
	NeedsTime bool
	Fields    []modelField
}

// RenderModel renders one entity into its model source file.
func RenderModel(entity ir.Entity) ([]byte, error) {
	data := modelData{
		GoName: ir.ToCamelCase(ir.ToSnakeCase(entity.Name)),
		Doc:    entity.Doc,
	}

	for _, attr := range entity.Attributes {
		if attr.IsRelationship() {
			// Collection relationships live in storage joins, not in
			// the request model.
			continue
		}

		name := attr.Name
		if attr.Type == ir.TypeBelongsTo {
			name = attr.Name + "_id"
		}

		goType := GoTypeFor(attr.Type)
		if goType == "time.Time" {
			data.NeedsTime = true
		}

		field := modelField{
			Name:   ir.ToCamelCase(ir.ToSnakeCase(name)),
			GoType: goType,
			Tag:    fieldTag(name, attr),
		}
		data.Fields = append(data.Fields, field)
	}

	var buf bytes.Buffer
	if err := modelTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fieldTag(name string, attr ir.Attribute) string {
	tag := fmt.Sprintf("json:%q", ir.ToSnakeCase(name))
	if validate := RenderValidateTag(attr.Constraints); validate != "" {
		tag += fmt.Sprintf(" validate:%q", validate)
	}
	if attr.Default != "" {
		tag += fmt.Sprintf(" default:%q", attr.Default)
	}
	return tag
}

type routeData struct {
	Method  string
	Path    string
	Handler string
}

type routesData struct {
	Routes   []routeData
	Handlers []string
}

// RenderRoutes renders the route registration file for the endpoints.
func RenderRoutes(endpoints []ir.Endpoint) ([]byte, error) {
	data := routesData{}
	seen := make(map[string]bool)

	for _, ep := range endpoints {
		handler := HandlerName(ep)
		data.Routes = append(data.Routes, routeData{
			Method:  ep.Method,
			Path:    ep.Path,
			Handler: handler,
		})
		if !seen[handler] {
			seen[handler] = true
			data.Handlers = append(data.Handlers, handler)
		}
	}

	var buf bytes.Buffer
	if err := routesTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HandlerName returns the handler function name for an endpoint. Bare
// endpoints with no entity or operation, like "GET /health", fall back
// to a name derived from the route itself.
func HandlerName(ep ir.Endpoint) string {
	base := ir.ToSnakeCase(ep.Entity) + "_" + ep.Operation
	camel := ir.ToCamelCase(base)
	if camel == "" {
		camel = ir.ToCamelCase(strings.ToLower(ep.Method) + pathToName(ep.Path))
	}
	if camel == "" {
		return "handleRoot"
	}
	// Lowercase first rune keeps handlers unexported.
	return string(camel[0]|0x20) + camel[1:]
}

// pathToName turns a route path into snake_case name segments, dropping
// parameter braces so "/users/{id}" yields "_users_id".
func pathToName(path string) string {
	var b strings.Builder
	for _, r := range path {
		switch {
		case r == '/':
			b.WriteRune('_')
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func renderMain(appName string) []byte {
	return []byte(fmt.Sprintf(`package main

import (
	"log"
	"net/http"
)

// %s server entrypoint.
func main() {
	mux := http.NewServeMux()
	registerRoutes(mux)
	log.Fatal(http.ListenAndServe(":8080", mux))
}
`, appName))
}
