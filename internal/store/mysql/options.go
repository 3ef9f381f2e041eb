package mysql

import "time"

const (
	defaultTablePrefix = "agent_testing_"
	defaultInitTimeout = 30 * time.Second
)

type options struct {
	tablePrefix string
	skipDBInit  bool
	initTimeout time.Duration
}

func newOptions(opts ...Option) *options {
	o := &options{
		tablePrefix: defaultTablePrefix,
		initTimeout: defaultInitTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the MySQL store.
type Option func(*options)

// WithTablePrefix sets the prefix of all table names.
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		o.tablePrefix = prefix
	}
}

// WithSkipDBInit skips creating the tables on startup.
func WithSkipDBInit(skip bool) Option {
	return func(o *options) {
		o.skipDBInit = skip
	}
}

// WithInitTimeout bounds schema creation. Non-positive values are ignored.
func WithInitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.initTimeout = d
		}
	}
}
