package config

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// Settings are addressed by dot paths made of the json names of Config's
// fields, e.g. "channels.websocket.port". Struct-valued fields are sections;
// everything else is a leaf that "hrchat config set" can change.

type setting struct {
	index []int
	kind  reflect.Kind
}

var (
	settings = map[string]setting{}
	sections = map[string][]int{}
)

func init() {
	collectPaths(reflect.TypeOf(Config{}), "", nil)
}

func collectPaths(t reflect.Type, prefix string, index []int) {
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		idx := append(slices.Clone(index), i)
		if f.Type.Kind() == reflect.Struct {
			sections[path] = idx
			collectPaths(f.Type, path, idx)
			continue
		}
		settings[path] = setting{index: idx, kind: f.Type.Kind()}
	}
}

// GetByPath returns the value of a setting or a whole section.
func GetByPath(cfg *Config, path string) (any, error) {
	v := reflect.ValueOf(cfg).Elem()
	if s, ok := settings[path]; ok {
		return v.FieldByIndex(s.index).Interface(), nil
	}
	if idx, ok := sections[path]; ok {
		return v.FieldByIndex(idx).Interface(), nil
	}
	return nil, fmt.Errorf("unknown config path %q", path)
}

// SetByPath parses value for the setting at path and stores it. Lists take
// comma-separated items. cfg is left untouched on error.
func SetByPath(cfg *Config, path, value string) error {
	s, ok := settings[path]
	if !ok {
		if _, ok := sections[path]; ok {
			return fmt.Errorf("%s is a section; set one of its fields", path)
		}
		return fmt.Errorf("unknown config path %q", path)
	}

	f := reflect.ValueOf(cfg).Elem().FieldByIndex(s.index)
	switch s.kind {
	case reflect.String:
		f.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s expects true or false, got %q", path, value)
		}
		f.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, f.Type().Bits())
		if err != nil {
			return fmt.Errorf("%s expects an integer, got %q", path, value)
		}
		f.SetInt(n)
	case reflect.Slice:
		f.Set(reflect.ValueOf(splitList(value)).Convert(f.Type()))
	default:
		return fmt.Errorf("%s cannot be set from a string", path)
	}
	return nil
}

func splitList(value string) []string {
	items := []string{}
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ListPaths returns every settable path with its current value.
func ListPaths(cfg *Config) map[string]any {
	v := reflect.ValueOf(cfg).Elem()
	out := make(map[string]any, len(settings))
	for path, s := range settings {
		out[path] = v.FieldByIndex(s.index).Interface()
	}
	return out
}

// Sanitize returns a copy of cfg with the chat network secrets masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg
	for _, secret := range []*string{
		&c.Channels.Telegram.Token,
		&c.Channels.Discord.Token,
		&c.Channels.Slack.BotToken,
		&c.Channels.Slack.AppToken,
	} {
		if *secret != "" {
			*secret = maskString(*secret)
		}
	}
	return &c
}

// maskString keeps the first and last four characters.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
