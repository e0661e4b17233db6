package properties

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides: redis.host is read from
// OTPAUTH_REDIS_HOST.
const EnvPrefix = "OTPAUTH"

// ErrLoad is returned when a configuration file cannot be read or parsed.
var ErrLoad = errors.New("properties: load failed")

// Source is a typed key lookup. Every getter returns def when the key is
// absent or its value cannot be converted.
type Source interface {
	GetString(key, def string) string
	GetInt(key string, def int) int
	GetBool(key string, def bool) bool
	GetDuration(key string, def time.Duration) time.Duration
	GetStrings(key string, def []string) []string
}

// Properties is a viper-backed [Source]. It is safe for concurrent reads once
// loaded.
type Properties struct {
	v *viper.Viper
}

var _ Source = (*Properties)(nil)

// Load reads the given files in order, later files overriding earlier ones.
// Files ending in .properties are read as KEY=VALUE lines.
func Load(paths ...string) (*Properties, error) {
	v := newViper()
	for i, path := range paths {
		v.SetConfigFile(path)
		v.SetConfigType(configType(path))

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoad, path, err)
		}
	}
	return &Properties{v: v}, nil
}

// FromMap builds a Properties from in-memory values, keyed by dotted names.
// The values sit at file precedence, so environment overrides still apply.
func FromMap(values map[string]any) *Properties {
	v := newViper()
	_ = v.MergeConfigMap(values)
	return &Properties{v: v}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func configType(path string) string {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "properties", "env", "":
		return "env"
	case "yml":
		return "yaml"
	default:
		return ext
	}
}

func (p *Properties) raw(key string) (string, bool) {
	if p == nil || p.v == nil || !p.v.IsSet(key) {
		return "", false
	}
	s := strings.TrimSpace(p.v.GetString(key))
	if s == "" {
		return "", false
	}
	return s, true
}

func (p *Properties) GetString(key, def string) string {
	if s, ok := p.raw(key); ok {
		return s
	}
	return def
}

func (p *Properties) GetInt(key string, def int) int {
	s, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (p *Properties) GetBool(key string, def bool) bool {
	s, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

// GetDuration accepts Go duration strings ("2s") or bare integers, which are
// read as milliseconds.
func (p *Properties) GetDuration(key string, def time.Duration) time.Duration {
	s, ok := p.raw(key)
	if !ok {
		return def
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetStrings splits a comma-separated value, dropping blank items.
func (p *Properties) GetStrings(key string, def []string) []string {
	s, ok := p.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// StringMap returns every key below prefix with the prefix removed. Keys are
// lower-cased by the loader.
func (p *Properties) StringMap(prefix string) map[string]string {
	if p == nil || p.v == nil {
		return nil
	}
	prefix = strings.ToLower(strings.TrimSuffix(prefix, ".")) + "."
	out := map[string]string{}
	for _, k := range p.v.AllKeys() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if s, ok := p.raw(k); ok {
			out[strings.TrimPrefix(k, prefix)] = s
		}
	}
	return out
}
