package repoquery

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// EntityName derives the cache namespace for a model type: the type name
// snake_cased and pluralized, so Quote becomes "quotes" and QuoteLineItem
// becomes "quote_line_items". Pointer types resolve to their element.
//
// The name doubles as the invalidation pattern for the entity, which is why
// nothing else is allowed to leak into it.
func EntityName[T any]() string {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	name := t.Name()
	if name == "" {
		name = t.String()
	}
	return inflection.Plural(toSnake(name))
}

// toSnake converts s to snake_case using ASCII-aware rules. Punctuation that
// reflection can smuggle in through composite type names (pointers, generic
// brackets) collapses to underscores; anything else would poison the
// substring matching that pattern invalidation relies on.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if (unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower) && !lastUnderscore {
					b.WriteByte('_')
					lastUnderscore = true
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			lastUnderscore = false

		case unicode.IsDigit(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				if !unicode.IsDigit(prev) && prev != '_' && !lastUnderscore {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r)
			lastUnderscore = false

		case r == '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}

		case r == '-' || unicode.IsSpace(r):
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}

		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}
