package ir

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts CamelCase to snake_case.
// Handles acronyms properly (HTTPRequest -> http_request).
func ToSnakeCase(s string) string {
	var result strings.Builder
	runes := []rune(s)

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				if unicode.IsLower(prev) {
					result.WriteRune('_')
				} else if i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
					result.WriteRune('_')
				}
			}
			result.WriteRune(unicode.ToLower(r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ToCamelCase converts snake_case to CamelCase.
func ToCamelCase(s string) string {
	parts := strings.Split(s, "_")
	var result strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		result.WriteString(strings.ToUpper(p[:1]))
		result.WriteString(p[1:])
	}
	return result.String()
}

// Pluralize returns the plural form of a lowercase noun. Covers the regular
// English rules plus the irregulars that show up in domain models.
func Pluralize(s string) string {
	if s == "" {
		return s
	}
	if irregular, ok := irregularPlurals[s]; ok {
		return irregular
	}
	switch {
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"),
		strings.HasSuffix(s, "z"), strings.HasSuffix(s, "ch"),
		strings.HasSuffix(s, "sh"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !isVowel(rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

// Singularize returns the singular form of a lowercase noun.
func Singularize(s string) string {
	if s == "" {
		return s
	}
	for singular, plural := range irregularPlurals {
		if s == plural {
			return singular
		}
	}
	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 3:
		return s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "ches"), strings.HasSuffix(s, "shes"),
		strings.HasSuffix(s, "xes"), strings.HasSuffix(s, "zes"),
		strings.HasSuffix(s, "sses"):
		return s[:len(s)-2]
	case strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "ss"):
		return s[:len(s)-1]
	default:
		return s
	}
}

// NormalizeName folds case and plural/singular so "order_items",
// "OrderItem", and "orderitems" all compare equal.
func NormalizeName(s string) string {
	folded := strings.ToLower(strings.ReplaceAll(ToSnakeCase(s), "_", ""))
	return Singularize(folded)
}

// SameName reports whether two names refer to the same entity, tolerating
// plural/singular and casing variants.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

var irregularPlurals = map[string]string{
	"person":   "people",
	"child":    "children",
	"category": "categories",
	"status":   "statuses",
	"address":  "addresses",
}

func isVowel(r rune) bool {
	switch unicode.ToLower(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
