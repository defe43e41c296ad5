package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to the upper-cased option name to form its
// environment variable, e.g. PROBE_INTERVAL_MS.
const EnvPrefix = "PROBE_"

type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
)

// Option is one recognised setting. Flags and environment variables are both
// derived from Name.
type Option struct {
	Name  string
	Usage string
	Kind  Kind
	Modes []Mode // nil: every mode

	get func(Config) string
	set func(*Config, string) error
}

func (o Option) Flag() string { return strings.ReplaceAll(o.Name, "_", "-") }

func (o Option) Env() string { return EnvPrefix + strings.ToUpper(o.Name) }

// DefaultValue renders the option's value in c, in the same units the flag
// accepts.
func (o Option) DefaultValue(c Config) string { return o.get(c) }

// Global reports whether the option is accepted in every mode.
func (o Option) Global() bool { return o.Modes == nil }

func (o Option) appliesTo(m Mode) bool {
	return o.Modes == nil || slices.Contains(o.Modes, m)
}

var (
	both     = []Mode{ModeHTTP, ModeDB}
	httpOnly = []Mode{ModeHTTP}
	dbOnly   = []Mode{ModeDB}
)

var options = []Option{
	durationOpt("connect_timeout_ms", "timeout for the connect phase only", time.Millisecond, both,
		func(c *Config) *time.Duration { return &c.ConnectTimeout }),
	durationOpt("timeout_ms", "timeout for the whole request", time.Millisecond, httpOnly,
		func(c *Config) *time.Duration { return &c.Timeout }),
	durationOpt("pool_idle_timeout_us", "idle sockets/connections are closed after this; the default effectively keeps none idle", time.Microsecond, both,
		func(c *Config) *time.Duration { return &c.PoolIdleTimeout }),
	intOpt("pool_max_idle_per_host", "maximum idle connections per host kept by each worker (0 disables keep-alive)", httpOnly,
		func(c *Config) *int { return &c.PoolMaxIdlePerHost }),
	durationOpt("pool_max_lifetime_us", "maximum lifetime of a pooled connection (0 keeps the driver default)", time.Microsecond, dbOnly,
		func(c *Config) *time.Duration { return &c.PoolMaxLifetime }),
	stringOpt("url", "URL to send requests to", httpOnly,
		func(c *Config) *string { return &c.URL }),
	durationOpt("interval_ms", "interval between probes of one worker", time.Millisecond, both,
		func(c *Config) *time.Duration { return &c.Interval }),
	intOpt("parallel", "number of workers running in parallel", both,
		func(c *Config) *int { return &c.Parallel }),

	stringOpt("database_url", "Postgres connection string; overrides the individual fields", dbOnly,
		func(c *Config) *string { return &c.DB.URL }),
	stringOpt("host", "database host", dbOnly,
		func(c *Config) *string { return &c.DB.Host }),
	intOpt("port", "database port", dbOnly,
		func(c *Config) *int { return &c.DB.Port }),
	stringOpt("username", "database user", dbOnly,
		func(c *Config) *string { return &c.DB.User }),
	stringOpt("password", "database password", dbOnly,
		func(c *Config) *string { return &c.DB.Password }),
	stringOpt("database", "database name", dbOnly,
		func(c *Config) *string { return &c.DB.Name }),
	stringOpt("sslmode", "Postgres sslmode (disable, allow, prefer, require, verify-ca, verify-full)", dbOnly,
		func(c *Config) *string { return &c.DB.SSLMode }),
	boolOpt("insecure", "skip TLS certificate verification", dbOnly,
		func(c *Config) *bool { return &c.DB.Insecure }),
	stringOpt("acquire", "per-attempt strategy: connect (new connection + ping) or pool (acquire/release)", dbOnly,
		func(c *Config) *string { return &c.DB.Acquire }),

	stringOpt("log_dir", "write rotated JSON logs to this directory instead of stderr", nil,
		func(c *Config) *string { return &c.Log.Dir }),
	stringOpt("log_level", "minimum log level (debug, info, warn, error)", nil,
		func(c *Config) *string { return &c.Log.Level }),
	boolOpt("dry_run", "build every probe, then exit without starting workers", nil,
		func(c *Config) *bool { return &c.DryRun }),
}

// Options returns the options accepted in mode m, in declaration order.
func Options(m Mode) []Option {
	out := make([]Option, 0, len(options))
	for _, o := range options {
		if o.appliesTo(m) {
			out = append(out, o)
		}
	}
	return out
}

// Lookup finds an option by name.
func Lookup(name string) (Option, bool) {
	for _, o := range options {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Layer is one source of raw option values keyed by option name.
type Layer struct {
	Source string
	Values map[string]string
}

// EnvLayer collects the PROBE_* variables recognised in mode m.
func EnvLayer(m Mode, lookup func(string) (string, bool)) Layer {
	l := Layer{Source: "env", Values: map[string]string{}}
	for _, o := range Options(m) {
		if v, ok := lookup(o.Env()); ok {
			l.Values[o.Name] = strings.TrimSpace(v)
		}
	}
	return l
}

// Merge applies layers over base in order, so later layers take precedence,
// then validates the result. The returned Config is never modified again.
func Merge(base Config, layers ...Layer) (Config, error) {
	cfg := base
	for _, l := range layers {
		names := make([]string, 0, len(l.Values))
		for name := range l.Values {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			o, ok := Lookup(name)
			if !ok {
				return Config{}, &Error{Option: name, Source: l.Source, Err: errors.New("unknown option")}
			}
			if !o.appliesTo(cfg.Mode) {
				return Config{}, &Error{Option: name, Source: l.Source, Err: fmt.Errorf("not supported in %s mode", cfg.Mode)}
			}
			if err := o.set(&cfg, l.Values[name]); err != nil {
				return Config{}, &Error{Option: name, Source: l.Source, Err: err}
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func durationOpt(name, usage string, unit time.Duration, modes []Mode, field func(*Config) *time.Duration) Option {
	return Option{
		Name:  name,
		Usage: usage,
		Kind:  KindInt,
		Modes: modes,
		get: func(c Config) string {
			return strconv.FormatInt(int64(*field(&c)/unit), 10)
		},
		set: func(c *Config, raw string) error {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer %q", raw)
			}
			if n < 0 {
				return fmt.Errorf("must be >= 0, got %d", n)
			}
			if n > math.MaxInt64/int64(unit) {
				return fmt.Errorf("out of range: %d", n)
			}
			*field(c) = time.Duration(n) * unit
			return nil
		},
	}
}

func intOpt(name, usage string, modes []Mode, field func(*Config) *int) Option {
	return Option{
		Name:  name,
		Usage: usage,
		Kind:  KindInt,
		Modes: modes,
		get:   func(c Config) string { return strconv.Itoa(*field(&c)) },
		set: func(c *Config, raw string) error {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid integer %q", raw)
			}
			*field(c) = n
			return nil
		},
	}
}

func stringOpt(name, usage string, modes []Mode, field func(*Config) *string) Option {
	return Option{
		Name:  name,
		Usage: usage,
		Kind:  KindString,
		Modes: modes,
		get:   func(c Config) string { return *field(&c) },
		set: func(c *Config, raw string) error {
			*field(c) = raw
			return nil
		},
	}
}

func boolOpt(name, usage string, modes []Mode, field func(*Config) *bool) Option {
	return Option{
		Name:  name,
		Usage: usage,
		Kind:  KindBool,
		Modes: modes,
		get:   func(c Config) string { return strconv.FormatBool(*field(&c)) },
		set: func(c *Config, raw string) error {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("invalid boolean %q", raw)
			}
			*field(c) = b
			return nil
		},
	}
}
