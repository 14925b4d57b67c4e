package processor

import (
	"fmt"
	"reflect"
	"sort"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Settings is a processor's configuration map.
type Settings map[string]any

func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

func (s Settings) Bool(key string, def bool) bool {
	switch v := s[key].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case float64:
		return v != 0
	}
	return def
}

func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Strings reads a list of strings; a single string becomes a one-element list.
func (s Settings) Strings(key string, def []string) []string {
	switch v := s[key].(type) {
	case []string:
		return v
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return def
}

// Floats reads a map of numbers, e.g. tag boosts.
func (s Settings) Floats(key string, def map[string]float64) map[string]float64 {
	raw, ok := s[key].(map[string]any)
	if !ok {
		if m, ok := s[key].(map[string]float64); ok {
			return m
		}
		return def
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case int:
			out[k] = float64(n)
		}
	}
	return out
}

// Equal compares two settings maps deeply.
func (s Settings) Equal(o Settings) bool {
	if len(s) == 0 && len(o) == 0 {
		return true
	}
	return reflect.DeepEqual(normalize(s), normalize(o))
}

func normalize(s Settings) map[string]string {
	out := make(map[string]string, len(s))
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = fmt.Sprintf("%v", s[k])
	}
	return out
}

func invalidSetting(processorID, key string, err error) error {
	return amanerrors.New(amanerrors.ErrCodeConfigInvalid,
		fmt.Sprintf("invalid setting %q for processor '%s': %v", key, processorID, err), err)
}
