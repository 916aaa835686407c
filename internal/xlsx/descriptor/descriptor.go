// Package descriptor builds a memoized descriptor of a target record type's
// columns: discovered once via reflection, then consulted by offset and
// setter on every row instead of being re-derived per row. The walk follows
// the same struct-tag discipline as the config loader, applied to
// spreadsheet-column binding.
package descriptor

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// foldCaser performs the Unicode-aware case folding used for
// case-insensitive enum member matching. strings.EqualFold is ASCII-centric;
// cases.Fold handles the non-ASCII column text this reader also has to
// tolerate.
var foldCaser = cases.Fold()

// FieldKind is the target field's converter kind.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt32
	KindInt64
	KindFloat32
	KindFloat64
	KindBool
	KindBigDecimal
	KindDate     // YYYY-MM-DD
	KindDateTime // YYYY-MM-DD HH:MM:SS
	KindEnum
)

// identifierNameHints are the substrings (case-insensitive) that mark a
// field as identifier-shaped when found in its Go field name or its external
// column name.
var identifierNameHints = []string{
	"identity", "cmnd", "cccd", "passport", "phone", "mobile", "tax", "mst", "account", "code",
}

// Field describes one bound struct field: external spreadsheet column name,
// reflect offset-based setter, converter kind, and the two normalization
// hints the cell normalizer consults.
type Field struct {
	ExternalName string
	Index        []int // reflect.Value.FieldByIndex path
	Kind         FieldKind
	EnumValues   []string // valid case-insensitive names, only set when Kind == KindEnum
	IsIdentifier bool
	IsDate       bool
	Required     bool
}

// Descriptor is the memoized result of discovering a target record type.
type Descriptor struct {
	Type   reflect.Type
	Fields []Field
	byName map[string]int // external name -> index into Fields
}

// New constructs a zero value of the descriptor's target type.
func (d *Descriptor) New() reflect.Value {
	return reflect.New(d.Type).Elem()
}

// FieldByName looks up a bound field by its external column name.
func (d *Descriptor) FieldByName(name string) (Field, bool) {
	idx, ok := d.byName[name]
	if !ok {
		return Field{}, false
	}
	return d.Fields[idx], true
}

// Set applies value (already normalized and converted to the field's Go
// type) onto rec via the field's offset path.
func (d *Descriptor) Set(rec reflect.Value, f Field, value any) error {
	fv := rec.FieldByIndex(f.Index)
	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	rv := reflect.ValueOf(value)
	if !rv.Type().AssignableTo(fv.Type()) {
		if rv.Type().ConvertibleTo(fv.Type()) {
			rv = rv.Convert(fv.Type())
		} else {
			return fmt.Errorf("field %s: cannot assign %T to %s", f.ExternalName, value, fv.Type())
		}
	}
	fv.Set(rv)
	return nil
}

var (
	cacheMu sync.RWMutex
	cache   = map[reflect.Type]*Descriptor{}
	missMu  sync.Mutex
	misses  = map[reflect.Type]bool{}
)

// For returns the memoized Descriptor for rec's type, building it on first
// use. Building is guarded so each type is discovered exactly once.
func For(rec any) (*Descriptor, error) {
	t := reflect.TypeOf(rec)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	cacheMu.RLock()
	d, ok := cache[t]
	cacheMu.RUnlock()
	if ok {
		return d, nil
	}

	missMu.Lock()
	wasMiss := misses[t]
	missMu.Unlock()
	if wasMiss {
		return nil, fmt.Errorf("descriptor: type %s previously failed discovery", t)
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()
	// Re-check under write lock in case another goroutine built it first.
	if d, ok := cache[t]; ok {
		return d, nil
	}

	built, err := build(t)
	if err != nil {
		// Cache the miss so the type is never re-probed, and log it: a
		// silently unbindable record type would otherwise only surface as
		// every row failing downstream.
		missMu.Lock()
		misses[t] = true
		missMu.Unlock()
		slog.Warn("descriptor: type discovery failed, caching miss", "type", t.String(), "error", err)
		return nil, err
	}
	cache[t] = built
	return built, nil
}

// build walks t's fields via the "xlsx" struct tag, mirroring
// config/loader.go's loadStruct walk: tag-driven, recursing into nested
// structs (except time.Time, which is a leaf value type here too).
func build(t reflect.Type) (*Descriptor, error) {
	d := &Descriptor{Type: t, byName: map[string]int{}}
	if err := walk(t, nil, d); err != nil {
		return nil, err
	}
	return d, nil
}

func walk(t reflect.Type, prefix []int, d *Descriptor) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue // unexported
		}
		index := append(append([]int{}, prefix...), i)

		if sf.Type.Kind() == reflect.Struct && sf.Type != reflect.TypeOf(time.Time{}) {
			if err := walk(sf.Type, index, d); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("xlsx")
		if tag == "" || tag == "-" {
			continue
		}
		parts := strings.Split(tag, ",")
		name := parts[0]
		opts := map[string]bool{}
		var enumValues []string
		for _, p := range parts[1:] {
			if strings.HasPrefix(p, "enum=") {
				enumValues = strings.Split(strings.TrimPrefix(p, "enum="), "|")
				continue
			}
			opts[p] = true
		}

		kind, err := kindOf(sf.Type, len(enumValues) > 0)
		if err != nil {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}

		f := Field{
			ExternalName: name,
			Index:        index,
			Kind:         kind,
			EnumValues:   enumValues,
			IsIdentifier: opts["identifier"] || isIdentifierShaped(name) || isIdentifierShaped(sf.Name),
			IsDate:       opts["date"] || kind == KindDate || kind == KindDateTime,
			Required:     opts["required"],
		}
		d.byName[name] = len(d.Fields)
		d.Fields = append(d.Fields, f)
	}
	return nil
}

func isIdentifierShaped(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range identifierNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func kindOf(t reflect.Type, isEnum bool) (FieldKind, error) {
	if isEnum {
		return KindEnum, nil
	}
	if t == reflect.TypeOf(time.Time{}) {
		return KindDateTime, nil
	}
	switch t.Kind() {
	case reflect.String:
		return KindString, nil
	case reflect.Int32:
		return KindInt32, nil
	case reflect.Int, reflect.Int64:
		return KindInt64, nil
	case reflect.Float32:
		return KindFloat32, nil
	case reflect.Float64:
		return KindFloat64, nil
	case reflect.Bool:
		return KindBool, nil
	default:
		return 0, fmt.Errorf("unsupported target kind %s", t.Kind())
	}
}

// Convert parses raw (already normalized) into the Go value matching
// f.Kind. Empty raw returns nil, which setters treat as the field's zero.
func Convert(f Field, raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	switch f.Kind {
	case KindString:
		return raw, nil
	case KindInt32:
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case KindInt64:
		return strconv.ParseInt(raw, 10, 64)
	case KindFloat32:
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, err
		}
		return float32(v), nil
	case KindFloat64:
		return strconv.ParseFloat(raw, 64)
	case KindBool:
		return strconv.ParseBool(raw)
	case KindBigDecimal:
		return raw, nil // callers needing arbitrary precision parse the canonical string themselves
	case KindDate:
		if _, err := time.Parse("2006-01-02", raw); err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", raw, err)
		}
		return raw, nil
	case KindDateTime:
		if _, err := time.Parse("2006-01-02 15:04:05", raw); err != nil {
			return nil, fmt.Errorf("invalid datetime %q: %w", raw, err)
		}
		return raw, nil
	case KindEnum:
		folded := foldCaser.String(raw)
		for _, v := range f.EnumValues {
			if foldCaser.String(v) == folded {
				return v, nil
			}
		}
		return nil, fmt.Errorf("value %q is not a valid enum member of %v", raw, f.EnumValues)
	default:
		return nil, fmt.Errorf("unsupported field kind %v", f.Kind)
	}
}
