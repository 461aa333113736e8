package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/internal/errors"
)

// Flag marks a binding as required and/or hidden.
type Flag uint8

const (
	// Required bindings fail the load when the variable is not set.
	Required Flag = 1 << iota
	// Hidden bindings are omitted from dumps and logged as "***".
	Hidden
)

const hiddenPlaceholder = "***"

// Binding ties one environment variable to one typed target.
type Binding interface {
	Name() string
	Flags() Flag
	Set(raw string) error
	String() string
}

type binding[T any] struct {
	name   string
	flags  Flag
	target *T
	parse  func(string) (T, error)
	format func(T) string
}

func (b *binding[T]) Name() string   { return b.name }
func (b *binding[T]) Flags() Flag    { return b.flags }
func (b *binding[T]) String() string { return b.format(*b.target) }

func (b *binding[T]) Set(raw string) error {
	v, err := b.parse(raw)
	if err != nil {
		return err
	}
	*b.target = v
	return nil
}

// String binds a string variable. Values loaded for names ending in _URI are
// normalised to end with "/", so an empty value loads as "/". An empty default
// stays empty.
func String(target *string, name string, flags Flag) Binding {
	parse := func(s string) (string, error) { return s, nil }
	if strings.HasSuffix(name, "_URI") {
		parse = func(s string) (string, error) { return withSlash(s), nil }
		if *target != "" {
			*target = withSlash(*target)
		}
	}
	return &binding[string]{name: name, flags: flags, target: target, parse: parse,
		format: func(s string) string { return s }}
}

// Bool binds a boolean variable. "1" and "true" (any case) are true, anything else false.
func Bool(target *bool, name string, flags Flag) Binding {
	return &binding[bool]{name: name, flags: flags, target: target,
		parse:  func(s string) (bool, error) { return parseBool(s), nil },
		format: strconv.FormatBool}
}

// Int binds an integer variable.
func Int(target *int, name string, flags Flag) Binding {
	return &binding[int]{name: name, flags: flags, target: target,
		parse:  strconv.Atoi,
		format: strconv.Itoa}
}

// Path binds a filesystem path, cleaned.
func Path(target *string, name string, flags Flag) Binding {
	return &binding[string]{name: name, flags: flags, target: target,
		parse:  func(s string) (string, error) { return filepath.Clean(s), nil },
		format: func(s string) string { return s }}
}

// Bytes binds a raw byte value.
func Bytes(target *[]byte, name string, flags Flag) Binding {
	return &binding[[]byte]{name: name, flags: flags, target: target,
		parse:  func(s string) ([]byte, error) { return []byte(s), nil },
		format: func(b []byte) string { return string(b) }}
}

// Loader resolves a declared list of bindings against the environment.
type Loader struct {
	prefix   string
	bindings []Binding
}

// NewLoader creates a loader for the given bindings.
func NewLoader(bindings ...Binding) *Loader {
	return &Loader{bindings: bindings}
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Load resolves every binding as <prefix><name>. A nil lookup uses os.LookupEnv.
func (l *Loader) Load(prefix string, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	l.prefix = strings.ToUpper(prefix)
	for _, b := range l.bindings {
		key := l.prefix + b.Name()
		raw, ok := lookup(key)
		if !ok {
			if b.Flags()&Required != 0 {
				return fmt.Errorf("%w: %s", errors.ErrRequiredValue, key)
			}
			continue
		}
		if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
			raw = strings.Trim(raw, `"`)
		}
		if err := b.Set(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", errors.ErrInvalidValue, key, err)
		}
		log.Debug().Str("key", key).Str("value", l.display(b)).Msg("ENV")
	}
	return nil
}

// Dump returns the current values keyed by their prefixed variable name.
// Hidden bindings are omitted when placeholder is empty, otherwise shown as placeholder.
func (l *Loader) Dump(placeholder string) map[string]string {
	res := make(map[string]string, len(l.bindings))
	for _, b := range l.bindings {
		if b.Flags()&Hidden != 0 {
			if placeholder == "" {
				continue
			}
			res[l.prefix+b.Name()] = placeholder
			continue
		}
		res[l.prefix+b.Name()] = b.String()
	}
	return res
}

// Names lists the prefixed variable names in sorted order.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.bindings))
	for _, b := range l.bindings {
		names = append(names, l.prefix+b.Name())
	}
	sort.Strings(names)
	return names
}

func (l *Loader) display(b Binding) string {
	if b.Flags()&Hidden != 0 {
		return hiddenPlaceholder
	}
	return b.String()
}

// LoadDotEnv loads the given files (default ".env") into the process environment.
// Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// GetEnv returns the environment variable or defaultValue when unset or empty.
func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBool(s string) bool {
	switch strings.ToUpper(s) {
	case "1", "TRUE":
		return true
	}
	return false
}

// withSlash appends "/" when missing. An empty value becomes "/".
func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
