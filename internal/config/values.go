package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

var durationType = reflect.TypeOf(time.Duration(0))

// field finds the settings field for a JSON key and returns it with its
// category name.
func (s *Settings) field(key string) (reflect.Value, string, bool) {
	root := reflect.ValueOf(s).Elem()
	for i := 0; i < root.NumField(); i++ {
		group := root.Field(i)
		if group.Kind() != reflect.Struct {
			continue
		}
		for j := 0; j < group.NumField(); j++ {
			if jsonName(group.Type().Field(j)) == key {
				return group.Field(j), root.Type().Field(i).Name, true
			}
		}
	}
	return reflect.Value{}, "", false
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	return name
}

// Values returns the current value of every setting in a category, keyed
// by JSON name.
func (s *Settings) Values(category string) map[string]any {
	values := make(map[string]any)
	for _, meta := range GetSettingsMetadata()[category] {
		if v, _, ok := s.field(meta.Key); ok {
			values[meta.Key] = v.Interface()
		}
	}
	return values
}

// Get returns the value of one setting.
func (s *Settings) Get(key string) (any, bool) {
	v, _, ok := s.field(key)
	if !ok {
		return nil, false
	}
	return v.Interface(), true
}

// Set parses value into the setting named key. Sizes accept units
// ("512MiB"), durations use Go syntax ("5s").
func (s *Settings) Set(key, value string) error {
	v, _, ok := s.field(key)
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	value = strings.TrimSpace(value)

	switch {
	case v.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v.SetInt(int64(d))
	case v.Kind() == reflect.String:
		v.SetString(value)
	case v.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v.SetBool(b)
	case v.Kind() == reflect.Int64:
		n, err := humanize.ParseBytes(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v.SetInt(int64(n))
	case v.Kind() == reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		v.SetInt(int64(n))
	default:
		return fmt.Errorf("%s: unsupported type %s", key, v.Type())
	}
	return nil
}

// Reset restores one setting to its default.
func (s *Settings) Reset(key string) error {
	v, _, ok := s.field(key)
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	def, _, _ := DefaultSettings().field(key)
	v.Set(def)
	return nil
}

// FormatValue renders a setting value for display.
func FormatValue(value any, typ string) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case bool:
		if v {
			return "True"
		}
		return "False"
	case time.Duration:
		return v.String()
	case int64:
		if typ == "int64" {
			if v <= 0 {
				return "0 (off)"
			}
			return humanize.IBytes(uint64(v))
		}
		return strconv.FormatInt(v, 10)
	case string:
		if v == "" {
			return "(default)"
		}
		return v
	}
	return fmt.Sprintf("%v", value)
}

// FormatEditable renders a value in the syntax Set parses back.
func FormatEditable(value any) string {
	switch v := value.(type) {
	case time.Duration:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10) + "B"
	}
	return fmt.Sprintf("%v", value)
}
