// Package config parses binlog2sql settings from the environment, an
// optional JSON job file and command-line flags, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/wilhg/binlog2sql/pkg/binlog"
	"github.com/wilhg/binlog2sql/pkg/errmodel"
	"github.com/wilhg/binlog2sql/pkg/window"
)

// DatetimeLayout is the accepted format of -start-datetime and -stop-datetime.
const DatetimeLayout = "2006-01-02 15:04:05"

// Config holds one run's settings.
type Config struct {
	Host     string `env:"BINLOG2SQL_HOST" envDefault:"127.0.0.1"`
	Port     int    `env:"BINLOG2SQL_PORT" envDefault:"3306"`
	User     string `env:"BINLOG2SQL_USER"`
	Password string `env:"BINLOG2SQL_PASSWORD"`

	Databases []string `env:"BINLOG2SQL_DATABASES" envSeparator:","`
	Tables    []string `env:"BINLOG2SQL_TABLES" envSeparator:","`

	StartFile     string `env:"BINLOG2SQL_START_FILE"`
	StartPosition uint   `env:"BINLOG2SQL_START_POSITION"`
	StopFile      string `env:"BINLOG2SQL_STOP_FILE"`
	StopPosition  uint   `env:"BINLOG2SQL_STOP_POSITION"`
	StartDatetime string `env:"BINLOG2SQL_START_DATETIME"`
	StopDatetime  string `env:"BINLOG2SQL_STOP_DATETIME"`
	StopNever     bool   `env:"BINLOG2SQL_STOP_NEVER"`

	Flashback     bool `env:"BINLOG2SQL_FLASHBACK"`
	OnlyPK        bool `env:"BINLOG2SQL_ONLY_PK"`
	NoPK          bool `env:"BINLOG2SQL_NO_PK"`
	Annotate      bool `env:"BINLOG2SQL_ANNOTATE"`
	SleepInterval int  `env:"BINLOG2SQL_SLEEP_INTERVAL" envDefault:"1000"`

	SpoolDir string `env:"BINLOG2SQL_SPOOL_DIR"`
	SpoolDSN string `env:"BINLOG2SQL_SPOOL_DSN"`
	ServerID uint   `env:"BINLOG2SQL_SERVER_ID"`

	LogLevel    string `env:"BINLOG2SQL_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"BINLOG2SQL_LOG_FORMAT" envDefault:"text"`
	MetricsAddr string `env:"BINLOG2SQL_METRICS_ADDR"`
	TraceStdout bool   `env:"BINLOG2SQL_TRACE_STDOUT"`
	ConfigFile  string `env:"BINLOG2SQL_CONFIG"`

	Version bool

	// StartTime and StopTime are parsed from the datetime strings.
	StartTime time.Time
	StopTime  time.Time
}

// ParseConfig reads the environment, then the job file named by -config,
// then the flags in args. Only flags given explicitly override the job file.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errmodel.New(errmodel.CategoryConfiguration, "invalid_env", "parse environment", nil, err)
	}
	bind(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Config{}, err
		}
		return Config{}, errmodel.New(errmodel.CategoryConfiguration, "invalid_flag", "parse flags", nil, err)
	}
	if cfg.Version {
		return cfg, nil
	}
	if cfg.ConfigFile != "" {
		job, err := LoadJob(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		set := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		job.apply(&cfg, set)
	}
	if err := cfg.finish(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func bind(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Host, "host", cfg.Host, "MySQL host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "MySQL port")
	fs.StringVar(&cfg.User, "user", cfg.User, "MySQL user")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "MySQL password")
	listVar(fs, &cfg.Databases, "databases", "comma separated schemas to include")
	listVar(fs, &cfg.Tables, "tables", "comma separated tables to include")
	fs.StringVar(&cfg.StartFile, "start-file", cfg.StartFile, "binlog file to start from (required)")
	fs.UintVar(&cfg.StartPosition, "start-position", cfg.StartPosition, "start position in the start file (default 4)")
	fs.StringVar(&cfg.StopFile, "stop-file", cfg.StopFile, "binlog file to stop at (default: start file)")
	fs.UintVar(&cfg.StopPosition, "stop-position", cfg.StopPosition, "stop position in the stop file")
	fs.StringVar(&cfg.StartDatetime, "start-datetime", cfg.StartDatetime, "skip events before this time ("+DatetimeLayout+")")
	fs.StringVar(&cfg.StopDatetime, "stop-datetime", cfg.StopDatetime, "stop at the first event at or after this time ("+DatetimeLayout+")")
	fs.BoolVar(&cfg.StopNever, "stop-never", cfg.StopNever, "keep following the log after reaching the current end")
	fs.BoolVar(&cfg.Flashback, "flashback", cfg.Flashback, "emit rollback SQL in reverse order")
	fs.BoolVar(&cfg.OnlyPK, "only-pk", cfg.OnlyPK, "use primary-key columns only in WHERE clauses")
	fs.BoolVar(&cfg.NoPK, "no-pk", cfg.NoPK, "omit primary-key columns from INSERT statements")
	fs.BoolVar(&cfg.Annotate, "annotate", cfg.Annotate, "append a position and time comment to row statements")
	fs.IntVar(&cfg.SleepInterval, "sleep-interval", cfg.SleepInterval, "flashback statements between SELECT SLEEP(1) directives")
	fs.StringVar(&cfg.SpoolDir, "spool-dir", cfg.SpoolDir, "directory for the flashback spool file (default: temp dir)")
	fs.StringVar(&cfg.SpoolDSN, "spool-dsn", cfg.SpoolDSN, "spool flashback statements to sqlite: or postgres:// instead of a file")
	fs.UintVar(&cfg.ServerID, "server-id", cfg.ServerID, "replica server id to register with (default: the server's own id)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics and /healthz on this address")
	fs.BoolVar(&cfg.TraceStdout, "trace-stdout", cfg.TraceStdout, "export traces to stderr")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "JSON job file")
	fs.BoolVar(&cfg.Version, "version", false, "print version and exit")
}

func listVar(fs *flag.FlagSet, dst *[]string, name, usage string) {
	fs.Func(name, usage, func(s string) error {
		*dst = splitList(s)
		return nil
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// finish parses datetimes and checks combinations.
func (c *Config) finish() error {
	if c.StartFile == "" {
		return errmodel.Configuration("missing_start_file", "lack of parameter: -start-file", nil)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errmodel.Configuration("invalid_port", fmt.Sprintf("port %d out of range", c.Port), nil)
	}
	if c.StartPosition > 1<<32-1 || c.StopPosition > 1<<32-1 {
		return errmodel.Configuration("invalid_position", "positions must fit in 32 bits", nil)
	}
	if c.SleepInterval <= 0 {
		return errmodel.Configuration("invalid_sleep_interval", "-sleep-interval must be positive", nil)
	}
	if c.Flashback && c.StopNever {
		return errmodel.Configuration("flashback_stop_never", "only one of -flashback or -stop-never can be set", nil)
	}
	if c.Flashback && c.NoPK {
		return errmodel.Configuration("flashback_no_pk", "only one of -flashback or -no-pk can be set", nil)
	}
	var err error
	if c.StartTime, err = parseDatetime("start-datetime", c.StartDatetime, window.DefaultStartTime); err != nil {
		return err
	}
	if c.StopTime, err = parseDatetime("stop-datetime", c.StopDatetime, window.DefaultStopTime); err != nil {
		return err
	}
	return nil
}

func parseDatetime(name, s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	t, err := time.ParseInLocation(DatetimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, errmodel.New(errmodel.CategoryConfiguration, "invalid_datetime",
			fmt.Sprintf("-%s must look like %q", name, DatetimeLayout), map[string]any{"value": s}, err)
	}
	return t, nil
}

// Window returns the replay window described by the configuration. The
// live-end snapshot is filled in by the caller.
func (c Config) Window() window.Window {
	return window.Window{
		Start:     binlog.Coordinate{File: c.StartFile, Pos: uint32(c.StartPosition)},
		End:       binlog.Coordinate{File: c.StopFile, Pos: uint32(c.StopPosition)},
		StartTime: c.StartTime,
		StopTime:  c.StopTime,
		StopNever: c.StopNever,
	}.Normalize()
}

// Filter returns the schema and table filter.
func (c Config) Filter() binlog.SchemaFilter {
	return binlog.SchemaFilter{Schemas: c.Databases, Tables: c.Tables}
}

// NeedPrimaryKeys reports whether the primary-key map must be resolved
// before streaming.
func (c Config) NeedPrimaryKeys() bool {
	return (c.OnlyPK || c.NoPK) && c.Filter().Complete()
}
