package ir

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"specforge/internal/logging"
)

// requirementsDoc is the on-disk shape of a structured requirements document.
// Parsing a natural-language spec into this document happens upstream; this
// loader only builds the canonical IR from it.
type requirementsDoc struct {
	App      string          `yaml:"app"`
	Version  string          `yaml:"version"`
	Entities []entityDoc     `yaml:"entities"`
	Routes   []endpointDoc   `yaml:"endpoints"`
	Rules    []ruleDoc       `yaml:"validation"`
	Flows    []Flow          `yaml:"flows"`
	Invars   []Invariant     `yaml:"invariants"`
}

type entityDoc struct {
	Name       string         `yaml:"name"`
	Doc        string         `yaml:"doc"`
	Attributes []attributeDoc `yaml:"attributes"`
}

type attributeDoc struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Nullable bool     `yaml:"nullable"`
	Default  string   `yaml:"default"`
	Target   string   `yaml:"target"`
	// Constraints accepts both a sequence ([positive, "max: 100"]) and a
	// mapping ({min: 0, required: true}); both collapse into the same
	// normalized records here, never downstream.
	Constraints yaml.Node `yaml:"constraints"`
}

type endpointDoc struct {
	Method         string `yaml:"method"`
	Path           string `yaml:"path"`
	Entity         string `yaml:"entity"`
	Operation      string `yaml:"operation"`
	RequestSchema  string `yaml:"request_schema"`
	ResponseSchema string `yaml:"response_schema"`
}

type ruleDoc struct {
	Entity    string     `yaml:"entity"`
	Attribute string     `yaml:"attribute"`
	Rule      string     `yaml:"rule"`
	Severity  string     `yaml:"severity"`
	TestCases []TestCase `yaml:"test_cases"`
}

// LoadRequirements reads a structured requirements YAML file and builds the
// canonical ApplicationIR: constraints normalized into tagged records, paths
// canonicalized, flow-derived operations inferred and appended.
func LoadRequirements(path string) (*ApplicationIR, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requirements: %w", err)
	}
	return BuildIR(data)
}

// BuildIR constructs the IR from raw requirements bytes.
func BuildIR(data []byte) (*ApplicationIR, error) {
	timer := logging.StartTimer(logging.CategoryIR, "BuildIR")
	defer timer.Stop()

	var doc requirementsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse requirements: %w", err)
	}

	app := &ApplicationIR{
		Name:    doc.App,
		Version: doc.Version,
	}

	for _, e := range doc.Entities {
		entity := Entity{Name: e.Name, Doc: e.Doc}
		for _, a := range e.Attributes {
			raw, err := decodeConstraintNode(&a.Constraints)
			if err != nil {
				return nil, fmt.Errorf("entity %s attribute %s: %w", e.Name, a.Name, err)
			}
			attr := Attribute{
				Name:        a.Name,
				Type:        DataType(strings.ToLower(a.Type)),
				Nullable:    a.Nullable,
				Default:     a.Default,
				Target:      a.Target,
				Constraints: NormalizeConstraints(raw),
			}
			entity.Attributes = append(entity.Attributes, attr)
		}
		app.Domain.Entities = append(app.Domain.Entities, entity)
	}

	for _, r := range doc.Routes {
		canonical, err := CanonicalPath(r.Path)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s %s: %w", r.Method, r.Path, err)
		}
		app.API.Endpoints = append(app.API.Endpoints, Endpoint{
			Method:         strings.ToUpper(r.Method),
			Path:           canonical,
			Entity:         r.Entity,
			Operation:      r.Operation,
			RequestSchema:  r.RequestSchema,
			ResponseSchema: r.ResponseSchema,
		})
	}

	for _, r := range doc.Rules {
		c, err := NormalizeConstraint(r.Rule)
		if err != nil {
			logging.Get(logging.CategoryIR).Warn("validation rule for %s.%s: %v", r.Entity, r.Attribute, err)
			continue
		}
		severity := r.Severity
		if severity == "" {
			severity = "error"
		}
		app.Validation.Rules = append(app.Validation.Rules, ValidationRule{
			Entity:    r.Entity,
			Attribute: r.Attribute,
			Kind:      c.Kind,
			Condition: c.Param,
			Severity:  severity,
			TestCases: r.TestCases,
		})
	}
	app.Validation.Invariants = doc.Invars
	app.Behavior.Flows = doc.Flows

	app.API.Endpoints = append(app.API.Endpoints, InferOperations(app)...)

	logging.IR("built IR for %s: %d entities, %d endpoints, %d rules, %d flows",
		app.Name, len(app.Domain.Entities), len(app.API.Endpoints),
		len(app.Validation.Rules), len(app.Behavior.Flows))
	return app, nil
}

// decodeConstraintNode collapses the two accepted YAML shapes for a
// constraint set into a flat list of raw descriptions.
func decodeConstraintNode(node *yaml.Node) ([]string, error) {
	if node == nil || node.Kind == 0 {
		return nil, nil
	}
	switch node.Kind {
	case yaml.SequenceNode:
		var out []string
		for _, item := range node.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				out = append(out, item.Value)
			case yaml.MappingNode:
				pairs, err := mappingPairs(item)
				if err != nil {
					return nil, err
				}
				out = append(out, pairs...)
			default:
				return nil, fmt.Errorf("unsupported constraint item kind %d", item.Kind)
			}
		}
		return out, nil
	case yaml.MappingNode:
		return mappingPairs(node)
	case yaml.ScalarNode:
		if node.Value == "" {
			return nil, nil
		}
		return []string{node.Value}, nil
	default:
		return nil, fmt.Errorf("constraints must be a sequence or mapping")
	}
}

func mappingPairs(node *yaml.Node) ([]string, error) {
	if len(node.Content)%2 != 0 {
		return nil, fmt.Errorf("malformed constraint mapping")
	}
	var out []string
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1].Value
		if val == "" || val == "true" {
			out = append(out, key)
		} else {
			out = append(out, key+"="+val)
		}
	}
	return out, nil
}
