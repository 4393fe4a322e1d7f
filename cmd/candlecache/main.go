// candlecache is the command-line front end of the local market-data cache.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	defaults "github.com/xtxerr/candlecache/config"
	"github.com/xtxerr/candlecache/internal/errors"
	"github.com/xtxerr/candlecache/internal/logging"
	"github.com/xtxerr/candlecache/internal/storage"
	"github.com/xtxerr/candlecache/internal/storage/config"
)

// Version is set at build time via ldflags
var Version = "dev"

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitIncomplete = 3
)

const usage = `usage: candlecache [global flags] <command> [flags]

commands:
  get        fetch-through read of one series
  coverage   per-key summary of cached days
  clear      remove cached data matching a filter
  vacuum     remove stale files and expired days
  stats      print cache statistics as JSON
  version    print the version

global flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// env carries what every command needs.
type env struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

type command func(ctx context.Context, e *env, args []string) error

var commands = map[string]command{
	"get":      runGet,
	"coverage": runCoverage,
	"clear":    runClear,
	"vacuum":   runVacuum,
	"stats":    runStats,
}

// usageError marks bad invocations so they map to exitUsage.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("candlecache", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.SetOutput(stderr)
	fs.String("config", "", "config file path")
	fs.String("data-dir", "", "cache directory (overrides config)")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.Bool("log-json", false, "log as JSON")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	if name == "version" {
		fmt.Fprintf(stdout, "candlecache %s\n", Version)
		return exitOK
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		fs.Usage()
		return exitUsage
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		fmt.Fprintf(stderr, "candlecache: %v\n", err)
		return exitUsage
	}

	err = cmd(ctx, &env{cfg: cfg, stdout: stdout, stderr: stderr}, rest)
	return exitCode(stderr, err)
}

func exitCode(stderr io.Writer, err error) int {
	if err == nil {
		return exitOK
	}
	if err == pflag.ErrHelp {
		return exitOK
	}
	fmt.Fprintf(stderr, "candlecache: %v\n", err)

	var ue *usageError
	var inc *storage.IncompleteError
	switch {
	case errors.As(err, &ue):
		return exitUsage
	case errors.As(err, &inc):
		return exitIncomplete
	case errors.IsValidation(err) && !errors.IsFetch(err):
		return exitUsage
	}
	return exitFailure
}

// loadConfig layers defaults, the YAML file, CANDLECACHE_* variables and
// flags, then installs the logger.
func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(defaults.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v.IsSet("data-dir") {
		cfg.DataDir = v.GetString("data-dir")
	}
	if v.IsSet("log-level") {
		cfg.Log.Level = v.GetString("log-level")
	}
	if v.IsSet("log-json") {
		cfg.Log.JSON = v.GetBool("log-json")
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Log.Level, errors.ErrInvalidConfig)
	}
	logging.Init(level, cfg.Log.JSON)
	return cfg, nil
}
