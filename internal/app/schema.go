package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// timestampLayouts are the wall-clock forms accepted for event timestamps.
// Values without an offset are read in the user's timezone.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("timestamp", func(fl validator.FieldLevel) bool {
		_, _, ok := parseTimestamp(fl.Field().String(), time.UTC)
		return ok
	})
	v.RegisterStructValidation(validateEventTiming, ExtractedEvent{})
	return v
}

// validateEventTiming keeps timestamp and precision consistent: an unknown
// time must be reported as such, and a reported time must carry a precision.
func validateEventTiming(sl validator.StructLevel) {
	ev := sl.Current().Interface().(ExtractedEvent)
	if ev.Timestamp == nil && ev.TimestampPrecision != "unknown" {
		sl.ReportError(ev.TimestampPrecision, "timestampPrecision", "TimestampPrecision", "unknown_without_timestamp", "")
	}
	if ev.Timestamp != nil && ev.TimestampPrecision == "unknown" {
		sl.ReportError(ev.TimestampPrecision, "timestampPrecision", "TimestampPrecision", "precision_with_timestamp", "")
	}
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, bool, bool) {
	for _, layout := range timestampLayouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, raw)
		} else {
			t, err = time.ParseInLocation(layout, raw, loc)
		}
		if err == nil {
			return t, layout == "2006-01-02", true
		}
	}
	return time.Time{}, false, false
}

// decodeStrict turns provider JSON into T and rejects anything that is not an
// exact match: unknown keys, missing keys, null where a value is required,
// wrong types, and values failing the validate tags. Nothing is defaulted.
func decodeStrict[T any](raw string, v *validator.Validate) (*T, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	var out T
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode: trailing data after json value")
	}

	var generic interface{}
	d := json.NewDecoder(bytes.NewReader([]byte(raw)))
	d.UseNumber()
	if err := d.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := requireKeys(generic, reflect.TypeOf(out), "$"); err != nil {
		return nil, err
	}

	if err := v.Struct(out); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	return &out, nil
}

// requireKeys walks the decoded value alongside the Go type and fails on the
// first json field that is absent, or null while the Go field is not a pointer.
// encoding/json would otherwise leave such fields at their zero value.
func requireKeys(value interface{}, t reflect.Type, path string) error {
	for t.Kind() == reflect.Ptr {
		if value == nil {
			return nil
		}
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%s: expected object", path)
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" || !f.IsExported() {
				continue
			}
			fieldPath := path + "." + name
			child, present := obj[name]
			if !present {
				return fmt.Errorf("%s: required field missing", fieldPath)
			}
			if child == nil {
				if f.Type.Kind() != reflect.Ptr {
					return fmt.Errorf("%s: null is not allowed", fieldPath)
				}
				continue
			}
			if err := requireKeys(child, f.Type, fieldPath); err != nil {
				return err
			}
		}
	case reflect.Slice:
		arr, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("%s: expected array", path)
		}
		for i, item := range arr {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil && t.Elem().Kind() != reflect.Ptr {
				return fmt.Errorf("%s: null is not allowed", itemPath)
			}
			if err := requireKeys(item, t.Elem(), itemPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// Helpers for the hand-written JSON schemas sent to the provider. Strict
// structured output needs every property listed as required and
// additionalProperties disabled.

func objectSchema(properties map[string]interface{}) map[string]interface{} {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	sort.Strings(required)
	return map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

func stringSchema(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func nullableStringSchema(description string) map[string]interface{} {
	return map[string]interface{}{"type": []string{"string", "null"}, "description": description}
}

func enumSchema(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "enum": values, "description": description}
}

func arraySchema(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}
