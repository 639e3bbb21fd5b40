package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Option keys that every Options instance declares.
const (
	KeyConfigDir = "app.config-dir"
	KeyPlugin    = "app.plugin"
)

var (
	ErrOptionsParsed   = errors.New("options already parsed")
	ErrDuplicateOption = errors.New("option already declared")
	ErrInvalidKey      = errors.New("option key must be group.name")
)

type optionKind int

const (
	kindString optionKind = iota
	kindBool
	kindStrings
)

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

type option struct {
	key   string
	flag  string
	kind  optionKind
	str   string
	b     bool
	list  stringList
	isSet bool
}

// Options resolves named settings from the command line first, then the
// environment, then a [group] table in the config file. Keys have the form
// "group.name". A missing config file is not an error.
type Options struct {
	name      string
	envPrefix string

	mu      sync.RWMutex
	fs      *flag.FlagSet
	opts    map[string]*option
	order   []string
	parsed  bool
	file    map[string]map[string]any
	dirPath string
}

// NewOptions creates an option set for the named program. It predeclares
// --config-dir and the repeatable --plugin flag.
func NewOptions(name string) *Options {
	o := &Options{
		name:      name,
		envPrefix: envName(name),
		fs:        flag.NewFlagSet(name, flag.ContinueOnError),
		opts:      make(map[string]*option),
	}
	o.fs.SetOutput(io.Discard)
	_ = o.AddString(KeyConfigDir, "config-dir", "directory holding config.toml")
	_ = o.AddStrings(KeyPlugin, "plugin", "plugin to initialize (repeatable)")
	return o
}

// Name returns the program name.
func (o *Options) Name() string { return o.name }

// SetEnvPrefix overrides the environment prefix, which defaults to the
// upper-cased program name.
func (o *Options) SetEnvPrefix(prefix string) {
	o.mu.Lock()
	o.envPrefix = prefix
	o.mu.Unlock()
}

// SetOutput sets where usage and parse errors are written.
func (o *Options) SetOutput(w io.Writer) {
	o.fs.SetOutput(w)
}

// AddString declares a single-valued option bound to --flagName.
func (o *Options) AddString(key, flagName, usage string) error {
	return o.add(key, flagName, usage, kindString)
}

// AddBool declares a boolean switch bound to --flagName.
func (o *Options) AddBool(key, flagName, usage string) error {
	return o.add(key, flagName, usage, kindBool)
}

// AddStrings declares a repeatable option bound to --flagName.
func (o *Options) AddStrings(key, flagName, usage string) error {
	return o.add(key, flagName, usage, kindStrings)
}

func (o *Options) add(key, flagName, usage string, kind optionKind) error {
	if _, _, ok := splitKey(key); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.parsed {
		return fmt.Errorf("%w: cannot declare %s", ErrOptionsParsed, key)
	}
	if _, exists := o.opts[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOption, key)
	}
	if flagName != "" && o.fs.Lookup(flagName) != nil {
		return fmt.Errorf("%w: --%s", ErrDuplicateOption, flagName)
	}

	opt := &option{key: key, flag: flagName, kind: kind}
	if flagName != "" {
		switch kind {
		case kindString:
			o.fs.StringVar(&opt.str, flagName, "", usage)
		case kindBool:
			o.fs.BoolVar(&opt.b, flagName, false, usage)
		case kindStrings:
			o.fs.Var(&opt.list, flagName, usage)
		}
	}
	o.opts[key] = opt
	o.order = append(o.order, key)
	return nil
}

// Keys returns the declared keys in declaration order.
func (o *Options) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// Parsed reports whether Parse has completed.
func (o *Options) Parsed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.parsed
}

// Parse reads args (without the program name) and then the config file
// found under the config directory. Parse may only be called once.
func (o *Options) Parse(args []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.parsed {
		return ErrOptionsParsed
	}
	if err := o.fs.Parse(args); err != nil {
		return err
	}
	o.fs.Visit(func(f *flag.Flag) {
		for _, opt := range o.opts {
			if opt.flag == f.Name {
				opt.isSet = true
			}
		}
	})

	dir, ok := o.lookupLocked(KeyConfigDir)
	if !ok {
		dir = DefaultConfigDir(o.name)
	}
	o.dirPath = dir

	file, err := readOptionsFile(dir)
	if err != nil {
		return err
	}
	o.file = file
	o.parsed = true
	return nil
}

// Args returns the positional arguments left after parsing.
func (o *Options) Args() []string {
	return o.fs.Args()
}

// ConfigDir returns the directory the config file was looked up in.
func (o *Options) ConfigDir() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dirPath
}

// Usage writes the flag defaults to w.
func (o *Options) Usage(w io.Writer) {
	fmt.Fprintf(w, "Usage of %s:\n", o.name)
	out := o.fs.Output()
	o.fs.SetOutput(w)
	o.fs.PrintDefaults()
	o.fs.SetOutput(out)
}

// Value returns the string value of key.
func (o *Options) Value(key string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lookupLocked(key)
}

// ValueOr returns the value of key, or def when it is not set anywhere.
func (o *Options) ValueOr(key, def string) string {
	if v, ok := o.Value(key); ok {
		return v
	}
	return def
}

// IsPresent reports whether a boolean option is switched on.
func (o *Options) IsPresent(key string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if opt, ok := o.opts[key]; ok && opt.isSet {
		if opt.kind == kindBool {
			return opt.b
		}
		return true
	}
	if v, ok := o.fromEnv(key); ok {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	if v, ok := o.fromFile(key); ok {
		switch b := v.(type) {
		case bool:
			return b
		case string:
			parsed, err := strconv.ParseBool(b)
			return err == nil && parsed
		}
	}
	return false
}

// Values returns the list value of key.
func (o *Options) Values(key string) ([]string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if opt, ok := o.opts[key]; ok && opt.isSet {
		switch opt.kind {
		case kindStrings:
			return append([]string(nil), opt.list...), true
		case kindString:
			return []string{opt.str}, true
		}
	}
	if v, ok := o.fromEnv(key); ok {
		return splitList(v), true
	}
	if v, ok := o.fromFile(key); ok {
		switch list := v.(type) {
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				out = append(out, fmt.Sprint(item))
			}
			return out, true
		case []string:
			return append([]string(nil), list...), true
		case string:
			return []string{list}, true
		}
	}
	return nil, false
}

// Int returns key parsed as an integer.
func (o *Options) Int(key string) (int, bool, error) {
	v, ok := o.Value(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, true, fmt.Errorf("option %s: %w", key, err)
	}
	return n, true, nil
}

// Duration returns key parsed with time.ParseDuration.
func (o *Options) Duration(key string) (time.Duration, bool, error) {
	v, ok := o.Value(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, true, fmt.Errorf("option %s: %w", key, err)
	}
	return d, true, nil
}

func (o *Options) lookupLocked(key string) (string, bool) {
	if opt, ok := o.opts[key]; ok && opt.isSet {
		switch opt.kind {
		case kindString:
			return opt.str, true
		case kindBool:
			return strconv.FormatBool(opt.b), true
		case kindStrings:
			if len(opt.list) > 0 {
				return opt.list[0], true
			}
		}
	}
	if v, ok := o.fromEnv(key); ok {
		return v, true
	}
	if v, ok := o.fromFile(key); ok {
		switch s := v.(type) {
		case string:
			return s, true
		case []any, map[string]any:
			return "", false
		default:
			return fmt.Sprint(s), true
		}
	}
	return "", false
}

func (o *Options) fromEnv(key string) (string, bool) {
	group, name, ok := splitKey(key)
	if !ok || o.envPrefix == "" {
		return "", false
	}
	v, ok := os.LookupEnv(o.envPrefix + "_" + envName(group) + "_" + envName(name))
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (o *Options) fromFile(key string) (any, bool) {
	group, name, ok := splitKey(key)
	if !ok || o.file == nil {
		return nil, false
	}
	table, ok := o.file[group]
	if !ok {
		return nil, false
	}
	v, ok := table[name]
	return v, ok
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// DefaultConfigDir returns <user config dir>/<name>/config, or "config" when
// the user config dir is unknown.
func DefaultConfigDir(name string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "config"
	}
	return filepath.Join(base, name, "config")
}

// ConfigFile returns the config file under dir: config.toml, else
// config.yaml, else config.yml. When none exists it returns the config.toml path.
func ConfigFile(dir string) string {
	for _, name := range []string{"config.toml", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.toml")
}

// LookupConfigDir scans raw arguments for --config-dir without parsing them,
// so the typed Config can be loaded before plugins declare their flags.
func LookupConfigDir(name string, args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		trimmed := strings.TrimLeft(arg, "-")
		if len(trimmed) == len(arg) {
			continue
		}
		if v, ok := strings.CutPrefix(trimmed, "config-dir="); ok {
			return v
		}
		if trimmed == "config-dir" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if v := os.Getenv(envName(name) + "_APP_CONFIG_DIR"); v != "" {
		return v
	}
	return DefaultConfigDir(name)
}

// readOptionsFile loads the generic group tables. Missing or unreadable
// files yield no tables; malformed files are an error.
func readOptionsFile(dir string) (map[string]map[string]any, error) {
	path := ConfigFile(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}

	raw := make(map[string]any)
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	tables := make(map[string]map[string]any, len(raw))
	for group, v := range raw {
		if table, ok := v.(map[string]any); ok {
			tables[group] = table
		}
	}
	return tables, nil
}

func splitKey(key string) (group, name string, ok bool) {
	group, name, ok = strings.Cut(key, ".")
	if !ok || group == "" || name == "" || strings.Contains(name, ".") {
		return "", "", false
	}
	return group, name, true
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
