// Package ir defines the canonical intermediate representation of a target
// application: entities with attributes and constraints, the API surface,
// validation rules, and behavioral flows. The IR is built once per run and
// never mutated; every downstream consumer reads the same typed records.
package ir

import (
	"fmt"
	"strings"
)

// ApplicationIR is the canonical, language-agnostic description of the
// application. Immutable after construction.
type ApplicationIR struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`

	Domain     DomainModel     `json:"domain" yaml:"domain"`
	API        APIModel        `json:"api" yaml:"api"`
	Validation ValidationModel `json:"validation" yaml:"validation"`
	Behavior   BehaviorModel   `json:"behavior" yaml:"behavior"`
}

// DomainModel holds the entities and their attributes.
type DomainModel struct {
	Entities []Entity `json:"entities" yaml:"entities"`
}

// Entity is one domain entity.
type Entity struct {
	Name       string      `json:"name" yaml:"name"`
	Doc        string      `json:"doc,omitempty" yaml:"doc,omitempty"`
	Attributes []Attribute `json:"attributes" yaml:"attributes"`
}

// Attribute is the single typed attribute record every consumer reads.
// There is exactly one shape for an attribute in the whole system.
type Attribute struct {
	Name        string       `json:"name" yaml:"name"`
	Type        DataType     `json:"type" yaml:"type"`
	Nullable    bool         `json:"nullable" yaml:"nullable"`
	Default     string       `json:"default,omitempty" yaml:"default,omitempty"`
	Target      string       `json:"target,omitempty" yaml:"target,omitempty"` // referenced entity for relationship types
	Constraints []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// DataType enumerates attribute data types, including relationship kinds.
type DataType string

const (
	TypeString  DataType = "string"
	TypeText    DataType = "text"
	TypeInt     DataType = "int"
	TypeFloat   DataType = "float"
	TypeDecimal DataType = "decimal"
	TypeBool    DataType = "bool"
	TypeUUID    DataType = "uuid"
	TypeTime    DataType = "time"
	TypeJSON    DataType = "json"

	// Relationship kinds. BelongsTo is a to-one reference and behaves like a
	// scalar foreign key; HasMany and ManyToMany are to-many references.
	TypeBelongsTo  DataType = "belongs_to"
	TypeHasMany    DataType = "has_many"
	TypeManyToMany DataType = "many_to_many"
)

// IsRelationship reports whether the attribute is a to-many reference.
// To-many attributes are excluded from scalar required/default/type checks;
// conflating a relationship with a missing scalar field is a known
// false-negative source.
func (a Attribute) IsRelationship() bool {
	return a.Type == TypeHasMany || a.Type == TypeManyToMany
}

// ConstraintKind tags one normalized constraint record.
type ConstraintKind string

const (
	KindRequired  ConstraintKind = "required"
	KindMin       ConstraintKind = "min"
	KindMax       ConstraintKind = "max"
	KindGT        ConstraintKind = "gt"
	KindGTE       ConstraintKind = "gte"
	KindLT        ConstraintKind = "lt"
	KindLTE       ConstraintKind = "lte"
	KindLen       ConstraintKind = "len"
	KindPattern   ConstraintKind = "pattern"
	KindOneOf     ConstraintKind = "oneof"
	KindEmail     ConstraintKind = "email"
	KindUUID      ConstraintKind = "uuid"
	KindUnique    ConstraintKind = "unique"
	KindImmutable ConstraintKind = "immutable"
)

// Constraint is one tagged constraint record. Constraints are normalized into
// this shape exactly once, at IR construction; downstream code never
// re-interprets raw spec text.
type Constraint struct {
	Kind  ConstraintKind `json:"kind" yaml:"kind"`
	Param string         `json:"param,omitempty" yaml:"param,omitempty"`
	// Source preserves the original spec wording for semantic matching.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// String renders the constraint in kind=param form.
func (c Constraint) String() string {
	if c.Param == "" {
		return string(c.Kind)
	}
	return fmt.Sprintf("%s=%s", c.Kind, c.Param)
}

// APIModel holds the endpoint surface.
type APIModel struct {
	Endpoints []Endpoint `json:"endpoints" yaml:"endpoints"`
}

// Endpoint is one HTTP operation. Path uses the canonical placeholder
// grammar: segments separated by '/', placeholders written {name}.
type Endpoint struct {
	Method         string `json:"method" yaml:"method"`
	Path           string `json:"path" yaml:"path"`
	Entity         string `json:"entity" yaml:"entity"`
	Operation      string `json:"operation" yaml:"operation"`
	RequestSchema  string `json:"request_schema,omitempty" yaml:"request_schema,omitempty"`
	ResponseSchema string `json:"response_schema,omitempty" yaml:"response_schema,omitempty"`
	// Inferred marks endpoints derived from behavioral flows rather than the
	// literal spec. They are tracked separately and never reported as missing
	// from the IR.
	Inferred bool `json:"inferred,omitempty" yaml:"inferred,omitempty"`
	// ValidEntities is the set of entities the operation may legally target.
	// Empty means only Entity itself.
	ValidEntities []string `json:"valid_entities,omitempty" yaml:"valid_entities,omitempty"`
}

// TargetsEntity reports whether name is a legal target for this endpoint.
func (e Endpoint) TargetsEntity(name string) bool {
	if strings.EqualFold(e.Entity, name) {
		return true
	}
	for _, v := range e.ValidEntities {
		if strings.EqualFold(v, name) {
			return true
		}
	}
	return false
}

// ValidationModel holds validation rules and invariants. These are repair and
// test gold data, not documentation.
type ValidationModel struct {
	Rules      []ValidationRule `json:"rules" yaml:"rules"`
	Invariants []Invariant      `json:"invariants,omitempty" yaml:"invariants,omitempty"`
}

// ValidationRule is one entity/attribute rule.
type ValidationRule struct {
	Entity    string         `json:"entity" yaml:"entity"`
	Attribute string         `json:"attribute" yaml:"attribute"`
	Kind      ConstraintKind `json:"kind" yaml:"kind"`
	Condition string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Severity  string         `json:"severity" yaml:"severity"`
	TestCases []TestCase     `json:"test_cases,omitempty" yaml:"test_cases,omitempty"`
}

// TestCase is a predefined gold case for a validation rule.
type TestCase struct {
	Input   string `json:"input" yaml:"input"`
	Valid   bool   `json:"valid" yaml:"valid"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Invariant is a named behavioral invariant.
type Invariant struct {
	Name       string `json:"name" yaml:"name"`
	Entity     string `json:"entity" yaml:"entity"`
	Expression string `json:"expression" yaml:"expression"`
}

// BehaviorModel holds named flows used to infer non-CRUD operations.
type BehaviorModel struct {
	Flows []Flow `json:"flows" yaml:"flows"`
}

// Flow is a named sequence of steps/transitions.
type Flow struct {
	Name  string     `json:"name" yaml:"name"`
	Steps []FlowStep `json:"steps" yaml:"steps"`
}

// FlowStep is one step in a flow. Entity names the step's target entity;
// From/To describe a state transition when present.
type FlowStep struct {
	Action string `json:"action" yaml:"action"`
	Entity string `json:"entity" yaml:"entity"`
	From   string `json:"from,omitempty" yaml:"from,omitempty"`
	To     string `json:"to,omitempty" yaml:"to,omitempty"`
}

// Entity returns the entity with the given name, or nil.
func (d DomainModel) Entity(name string) *Entity {
	for i := range d.Entities {
		if strings.EqualFold(d.Entities[i].Name, name) {
			return &d.Entities[i]
		}
	}
	return nil
}

// Attribute returns the named attribute, or nil.
func (e *Entity) Attribute(name string) *Attribute {
	for i := range e.Attributes {
		if strings.EqualFold(e.Attributes[i].Name, name) {
			return &e.Attributes[i]
		}
	}
	return nil
}

// Complete reports whether the IR carries the sections the compliance engine
// requires. An incomplete IR is fatal upstream; no repair is attempted.
func (a *ApplicationIR) Complete() error {
	if a.Name == "" {
		return fmt.Errorf("ir missing application name")
	}
	if len(a.Domain.Entities) == 0 {
		return fmt.Errorf("ir missing domain entities")
	}
	for _, e := range a.Domain.Entities {
		if e.Name == "" {
			return fmt.Errorf("ir entity with empty name")
		}
		if len(e.Attributes) == 0 {
			return fmt.Errorf("ir entity %s has no attributes", e.Name)
		}
	}
	if len(a.API.Endpoints) == 0 {
		return fmt.Errorf("ir missing api endpoints")
	}
	return nil
}
