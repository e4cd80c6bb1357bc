package events

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// bookkeeping fields that never count as a real change
var skippedFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
}

// Diff compares two instances of the same struct type field by field and
// returns the changed fields keyed by their db column name. Fields without a
// db tag and bookkeeping timestamps are ignored. A nil result means nothing
// changed, which callers use to suppress no-op audit records.
func Diff(before, after interface{}) map[string]FieldChange {
	bv := reflect.Indirect(reflect.ValueOf(before))
	av := reflect.Indirect(reflect.ValueOf(after))
	if !bv.IsValid() || !av.IsValid() || bv.Type() != av.Type() || bv.Kind() != reflect.Struct {
		return nil
	}

	var changes map[string]FieldChange
	t := bv.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := columnName(field)
		if name == "" || skippedFields[name] {
			continue
		}

		oldVal := formatValue(bv.Field(i))
		newVal := formatValue(av.Field(i))
		if oldVal == newVal {
			continue
		}
		if changes == nil {
			changes = make(map[string]FieldChange)
		}
		changes[name] = FieldChange{Old: oldVal, New: newVal}
	}
	return changes
}

func columnName(field reflect.StructField) string {
	tag := field.Tag.Get("db")
	if tag == "" || tag == "-" {
		return ""
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	return tag
}

func formatValue(v reflect.Value) string {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v.Interface())
}
