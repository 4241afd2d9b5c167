package cache

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator delimits cache key segments: entity, filters, page.
const KeySeparator = ":"

// maxSegmentLen bounds a rendered filter segment. Longer segments are
// replaced by an xxhash digest so keys stay small while logically identical
// filter sets still collide.
const maxSegmentLen = 128

// KeyBuilder renders stable cache keys from typed query descriptions. Keys
// take the form entity:filters:page=N:size=M with the filter and page
// segments present only when used, e.g.
//
//	quotes
//	quotes:status=sent
//	quotes:status=sent:page=2:size=20
//
// Filter parameters serialize canonically: map keys are sorted, values walk
// recursively, and JSON is the fallback for anything exotic. Two logically
// identical filter maps therefore produce the same key regardless of
// construction order.
type KeyBuilder struct{}

// NewKeyBuilder creates a new instance of the default key builder.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// Build renders the key for an unpaged query over entity.
func (b *KeyBuilder) Build(entity string, filters map[string]any) string {
	segments := []string{entity}
	if seg := b.filterSegment(filters); seg != "" {
		segments = append(segments, seg)
	}
	return strings.Join(segments, KeySeparator)
}

// BuildPage renders the key for one page of a paged query. Each page and
// page size owns its own key, which is what lets previously visited pages
// render without refetching.
func (b *KeyBuilder) BuildPage(entity string, filters map[string]any, page, size int) string {
	segments := []string{entity}
	if seg := b.filterSegment(filters); seg != "" {
		segments = append(segments, seg)
	}
	segments = append(segments, fmt.Sprintf("page=%d", page), fmt.Sprintf("size=%d", size))
	return strings.Join(segments, KeySeparator)
}

// PageKeyFn curries BuildPage for callers that hand key construction to a
// pagination controller.
func (b *KeyBuilder) PageKeyFn(entity string, filters map[string]any) func(page, size int) string {
	return func(page, size int) string {
		return b.BuildPage(entity, filters, page, size)
	}
}

// filterSegment renders filters as sorted k=v pairs joined by commas,
// digesting the result when it exceeds maxSegmentLen.
func (b *KeyBuilder) filterSegment(filters map[string]any) string {
	if len(filters) == 0 {
		return ""
	}

	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%s", k, b.serializeValue(filters[k]))
	}

	segment := strings.Join(pairs, ",")
	if len(segment) > maxSegmentLen {
		return fmt.Sprintf("xxh=%016x", xxhash.Sum64String(segment))
	}
	return segment
}

// serializeValue handles individual filter value serialization based on type.
func (b *KeyBuilder) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := reflect.TypeOf(v)

	// Function pointers only stay stable within a process; filters should
	// not normally carry them, but a stable rendering beats a panic.
	if rt.Kind() == reflect.Func {
		return fmt.Sprintf("func:%p", v)
	}

	// Handle pointers by dereferencing
	if rt.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return "nil"
		}
		return b.serializeValue(rv.Elem().Interface())
	}

	// Handle slices recursively
	if rt.Kind() == reflect.Slice {
		if rv.IsNil() {
			return "nil"
		}
		return b.serializeList(rv)
	}

	// Handle arrays
	if rt.Kind() == reflect.Array {
		return b.serializeList(rv)
	}

	// Handle maps with sorted keys for determinism
	if rt.Kind() == reflect.Map {
		if rv.IsNil() {
			return "nil"
		}
		return b.serializeMap(rv)
	}

	// Handle structs
	if rt.Kind() == reflect.Struct {
		return b.serializeStruct(rv, rt)
	}

	switch rt.Kind() {
	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)
	case reflect.Interface:
		if rv.IsNil() {
			return "nil"
		}
		return b.serializeValue(rv.Elem().Interface())
	}

	// For basic types, use string representation
	if isBasicKind(rt.Kind()) {
		return fmt.Sprintf("%v", v)
	}

	// Fallback to JSON for complex types
	return b.jsonFallback(v)
}

// serializeList handles slice and array serialization recursively.
func (b *KeyBuilder) serializeList(rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)

	for i := 0; i < length; i++ {
		parts[i] = b.serializeValue(rv.Index(i).Interface())
	}

	return "[" + strings.Join(parts, " ") + "]"
}

// serializeMap handles map serialization with sorted keys for determinism.
func (b *KeyBuilder) serializeMap(rv reflect.Value) string {
	keys := rv.MapKeys()

	rendered := make([]string, len(keys))
	byRendered := make(map[string]reflect.Value, len(keys))
	for i, k := range keys {
		s := b.serializeValue(k.Interface())
		rendered[i] = s
		byRendered[s] = k
	}
	sort.Strings(rendered)

	pairs := make([]string, len(rendered))
	for i, keyStr := range rendered {
		value := rv.MapIndex(byRendered[keyStr])
		pairs[i] = fmt.Sprintf("%s=%s", keyStr, b.serializeValue(value.Interface()))
	}

	return "{" + strings.Join(pairs, " ") + "}"
}

// serializeStruct handles struct serialization with exported field names.
func (b *KeyBuilder) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	numFields := rv.NumField()
	parts := make([]string, 0, numFields)

	for i := 0; i < numFields; i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}

		fieldValue := rv.Field(i)
		if !fieldValue.CanInterface() {
			continue
		}

		parts = append(parts, fmt.Sprintf("%s=%s", field.Name, b.serializeValue(fieldValue.Interface())))
	}

	return "(" + strings.Join(parts, " ") + ")"
}

// isBasicKind checks if a kind represents a basic Go type.
func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

// jsonFallback provides JSON serialization as a last resort.
func (b *KeyBuilder) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// If JSON marshaling fails, fall back to type information rather
		// than failing the read path.
		return fmt.Sprintf("type:%s", reflect.TypeOf(v).String())
	}
	return string(data)
}
