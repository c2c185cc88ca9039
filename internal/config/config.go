// Package config loads option structs from TOML, the environment and the
// command line, and watches the config file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/go-multierror"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/framecast/internal/logging"
)

// EnvPrefix is prepended to every `env` tag when reading environment overrides.
const EnvPrefix = "FRAMECAST_"

var durationType = reflect.TypeOf(time.Duration(0))

// binding ties one option field to its sources.
type binding struct {
	name  string // Go field name
	field reflect.Value
	toml  string // dotted path, "" if none
	env   string // without EnvPrefix, "" if none
	flag  bool   // set explicitly on the command line
}

// LoadConfig fills opts, a pointer to a flat options struct, from the file
// named by its Config field and then from FRAMECAST_* variables. Fields whose
// flag was set on cmd keep their value. A missing file is not an error; an
// unparsable file or a malformed value is.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: want pointer to struct, got %T", opts)
	}
	bindings, path := collectBindings(v.Elem(), changedFlags(cmd))

	doc, err := readTOML(path)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, b := range bindings {
		if b.flag {
			continue
		}
		if doc != nil && b.toml != "" {
			if value, ok := lookup(doc, b.toml); ok {
				if err := assign(b.field, value); err != nil {
					result = multierror.Append(result, fmt.Errorf("%s: %w", b.toml, err))
				}
			}
		}
		if b.env != "" {
			if value := os.Getenv(EnvPrefix + b.env); value != "" {
				if err := assign(b.field, value); err != nil {
					result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, b.env, err))
				}
			}
		}
	}
	return result.ErrorOrNil()
}

func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := make(map[string]bool)
	if cmd == nil {
		return changed
	}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed[f.Name] = true
		}
	})
	return changed
}

func collectBindings(v reflect.Value, changed map[string]bool) ([]binding, string) {
	t := v.Type()
	var path string
	bindings := make([]binding, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Name == "Config" && f.Type.Kind() == reflect.String {
			path = v.Field(i).String()
		}
		bindings = append(bindings, binding{
			name:  f.Name,
			field: v.Field(i),
			toml:  f.Tag.Get("toml"),
			env:   f.Tag.Get("env"),
			flag:  changed[fieldNameToFlag(f.Name)],
		})
	}
	return bindings, path
}

// readTOML returns nil for an empty path or a missing file.
func readTOML(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return doc, nil
}

// fieldNameToFlag converts a field name to the flag humacli derives from it,
// e.g. "LoggingLevel" -> "logging-level".
func fieldNameToFlag(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			sb.WriteByte('-')
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

// lookup resolves a dotted path such as "egress.server_url".
func lookup(doc map[string]any, path string) (any, bool) {
	keys := strings.Split(path, ".")
	node := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			return nil, false
		}
		node = next
	}
	value, ok := node[keys[len(keys)-1]]
	return value, ok
}

// assign stores value in field. Strings are parsed according to the field's
// type, so env values and TOML strings ("3s") share one path.
func assign(field reflect.Value, value any) error {
	if !field.CanSet() {
		return nil
	}
	if s, ok := value.(string); ok {
		return assignString(field, s)
	}

	switch field.Kind() {
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
			return nil
		}
	case reflect.Int, reflect.Int32, reflect.Int64:
		if n, ok := value.(int64); ok && field.Type() != durationType {
			field.SetInt(n)
			return nil
		}
	case reflect.Float64:
		switch n := value.(type) {
		case float64:
			field.SetFloat(n)
			return nil
		case int64:
			field.SetFloat(float64(n))
			return nil
		}
	case reflect.Slice:
		items, ok := value.([]any)
		if ok && field.Type().Elem().Kind() == reflect.String {
			out := make([]string, 0, len(items))
			for _, item := range items {
				s, isString := item.(string)
				if !isString {
					return fmt.Errorf("list item %v is not a string", item)
				}
				out = append(out, s)
			}
			field.Set(reflect.ValueOf(out))
			return nil
		}
	}
	return fmt.Errorf("cannot use %T value for %s", value, field.Type())
}

func assignString(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(s)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(s, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported type %s", field.Type())
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported type %s", field.Type())
	}
	return nil
}

// LoadLoggingConfig reads the [logging] table of a config file. Besides
// level and format, every string key is a module level; a nested
// [logging.modules] table is accepted too. Missing or broken files give the
// defaults, since logging has to come up before anything can be reported.
func LoadLoggingConfig(path string) logging.Config {
	cfg := logging.Config{Level: "info", Format: "text", Modules: make(map[string]string)}

	doc, err := readTOML(path)
	if err != nil || doc == nil {
		return cfg
	}
	table, _ := doc["logging"].(map[string]any)
	for key, value := range table {
		switch v := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = v
			case "format":
				cfg.Format = v
			default:
				cfg.Modules[key] = v
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range v {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}
	return cfg
}
