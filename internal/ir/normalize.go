package ir

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"specforge/internal/logging"
)

// vocabulary maps free-text spec wordings to canonical constraint records.
// Normalization happens exactly once, here; the rest of the system only ever
// sees tagged records.
var vocabulary = map[string]Constraint{
	"required":     {Kind: KindRequired},
	"mandatory":    {Kind: KindRequired},
	"not null":     {Kind: KindRequired},
	"non-null":     {Kind: KindRequired},
	"positive":     {Kind: KindGT, Param: "0"},
	"non-negative": {Kind: KindGTE, Param: "0"},
	"nonnegative":  {Kind: KindGTE, Param: "0"},
	"negative":     {Kind: KindLT, Param: "0"},
	"non-positive": {Kind: KindLTE, Param: "0"},
	"unique":       {Kind: KindUnique},
	"distinct":     {Kind: KindUnique},
	"immutable":    {Kind: KindImmutable},
	"snapshot":     {Kind: KindImmutable},
	"frozen":       {Kind: KindImmutable},
	"read-only":    {Kind: KindImmutable},
	"readonly":     {Kind: KindImmutable},
	"email":        {Kind: KindEmail},
	"uuid":         {Kind: KindUUID},
}

// parameterizedKinds lists kinds that carry a parameter.
var parameterizedKinds = map[ConstraintKind]bool{
	KindMin: true, KindMax: true, KindGT: true, KindGTE: true,
	KindLT: true, KindLTE: true, KindLen: true,
	KindPattern: true, KindOneOf: true,
}

// NumericKinds lists kinds whose parameter must be numeric.
var NumericKinds = map[ConstraintKind]bool{
	KindMin: true, KindMax: true, KindGT: true, KindGTE: true,
	KindLT: true, KindLTE: true, KindLen: true,
}

// knownKinds is the closed set of canonical kinds.
var knownKinds = map[ConstraintKind]bool{
	KindRequired: true, KindMin: true, KindMax: true, KindGT: true,
	KindGTE: true, KindLT: true, KindLTE: true, KindLen: true,
	KindPattern: true, KindOneOf: true, KindEmail: true, KindUUID: true,
	KindUnique: true, KindImmutable: true,
}

// NormalizeConstraint maps one raw constraint description - either a free-text
// wording or a kind[:=]param form - to a canonical tagged record. The original
// wording is preserved in Source for semantic matching.
func NormalizeConstraint(raw string) (Constraint, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Constraint{}, fmt.Errorf("empty constraint")
	}
	lower := strings.ToLower(trimmed)

	if c, ok := vocabulary[lower]; ok {
		c.Source = trimmed
		return c, nil
	}

	// kind=param / kind: param / "kind param" forms
	for _, sep := range []string{"=", ":", " "} {
		if idx := strings.Index(lower, sep); idx > 0 {
			kind := ConstraintKind(strings.TrimSpace(lower[:idx]))
			param := strings.TrimSpace(trimmed[idx+1:])
			if knownKinds[kind] {
				return normalizeKindParam(kind, param, trimmed)
			}
			// "greater than 0", "at least 5" style wordings
			if c, ok := normalizePhrase(lower, trimmed); ok {
				return c, nil
			}
			break
		}
	}

	if knownKinds[ConstraintKind(lower)] {
		return Constraint{Kind: ConstraintKind(lower), Source: trimmed}, nil
	}

	if c, ok := normalizePhrase(lower, trimmed); ok {
		return c, nil
	}

	return Constraint{}, fmt.Errorf("unrecognized constraint %q", raw)
}

// normalizeKindParam validates a parameterized record.
func normalizeKindParam(kind ConstraintKind, param, source string) (Constraint, error) {
	if parameterizedKinds[kind] && param == "" {
		return Constraint{}, fmt.Errorf("constraint %s requires a parameter", kind)
	}
	if NumericKinds[kind] && param != "" {
		if _, err := strconv.ParseFloat(param, 64); err != nil {
			return Constraint{}, fmt.Errorf("constraint %s requires a numeric parameter, got %q", kind, param)
		}
	}
	return Constraint{Kind: kind, Param: param, Source: source}, nil
}

// normalizePhrase handles comparative phrasings like "greater than 0",
// "at least 18", "at most 100", "less than 10".
func normalizePhrase(lower, source string) (Constraint, bool) {
	phrases := []struct {
		prefix string
		kind   ConstraintKind
	}{
		{"greater than or equal to ", KindGTE},
		{"greater than ", KindGT},
		{"less than or equal to ", KindLTE},
		{"less than ", KindLT},
		{"at least ", KindGTE},
		{"at most ", KindLTE},
		{"minimum ", KindMin},
		{"maximum ", KindMax},
		{"one of ", KindOneOf},
		{"matches ", KindPattern},
	}
	for _, p := range phrases {
		if strings.HasPrefix(lower, p.prefix) {
			param := strings.TrimSpace(source[len(p.prefix):])
			c, err := normalizeKindParam(p.kind, param, source)
			if err != nil {
				return Constraint{}, false
			}
			return c, true
		}
	}
	return Constraint{}, false
}

// NormalizeConstraints normalizes a raw constraint list into an ordered set:
// stable order by (kind, param), duplicates removed. Unrecognized entries are
// dropped with a warning rather than carried as raw text.
func NormalizeConstraints(raw []string) []Constraint {
	seen := make(map[string]bool)
	var out []Constraint
	for _, r := range raw {
		c, err := NormalizeConstraint(r)
		if err != nil {
			logging.Get(logging.CategoryIR).Warn("dropping constraint: %v", err)
			continue
		}
		key := string(c.Kind) + "\x00" + c.Param
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Param < out[j].Param
	})
	return out
}
