// Binary vmountfs builds a namespace of mounted filesystems and either serves
// it over FUSE or runs a single file operation against it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"vmountfs/internal/config"
	"vmountfs/internal/logging"
	"vmountfs/internal/rootfs"
)

var (
	logger = logging.GetLogger()

	// Output of the file commands. Tests replace it.
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin

	configPath = flag.String("config", "", "path to a TOML namespace layout; the built-in layout is used if empty")
	logLevel   = flag.String("log-level", "", "one of error, warn, info, debug, trace; overrides LOG_LEVEL")
	verbose    = flag.Bool("verbose", false, "enable verbose logging")
)

func registerCommands(cdr *subcommands.Commander) {
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")

	cdr.Register(new(Mount), "")
	cdr.Register(new(Mounts), "")

	const files = "files"
	cdr.Register(new(Ls), files)
	cdr.Register(new(Cat), files)
	cdr.Register(new(Stat), files)
	cdr.Register(new(Mkdir), files)
	cdr.Register(new(Rm), files)
	cdr.Register(new(Mv), files)
	cdr.Register(new(Write), files)
}

func main() {
	registerCommands(subcommands.DefaultCommander)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	if err := configureLogging(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "vmountfs: %v\n", err)
		os.Exit(int(subcommands.ExitUsageError))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmountfs: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}

	status := subcommands.Execute(context.Background(), cfg)
	_ = logger.Sync()
	os.Exit(int(status))
}

// configureLogging applies the logging flags. Commands other than mount
// print their results to stdout, so they only log warnings by default.
func configureLogging(command string) error {
	switch {
	case *logLevel != "":
		level, ok := logging.ParseLevel(*logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", *logLevel)
		}
		logger.SetLevel(level)
	case *verbose:
		logger.SetLevel(logging.LevelDebug)
	case command != "mount" && os.Getenv("LOG_LEVEL") == "" && os.Getenv("FUSE_DEBUG") == "":
		logger.SetLevel(logging.LevelWarn)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	logger.Debug("Loading config from %s", path)
	return config.Load(path)
}

// withSystem brings a namespace up from the config passed to Execute, runs fn
// against it and tears it down again, saving state if configured.
func withSystem(args []interface{}, fn func(sys *rootfs.System) error) subcommands.ExitStatus {
	cfg, ok := args[0].(*config.Config)
	if !ok {
		return failf("internal error: no config")
	}
	sys, err := rootfs.New(cfg)
	if err != nil {
		return failf("%v", err)
	}

	runErr := fn(sys)
	if err := sys.Close(); err != nil {
		logger.Error("Failed to close namespace: %v", err)
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return failf("%v", runErr)
	}
	return subcommands.ExitSuccess
}

func failf(format string, args ...interface{}) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "vmountfs: "+format+"\n", args...)
	return subcommands.ExitFailure
}

func usage(f *flag.FlagSet) subcommands.ExitStatus {
	f.Usage()
	return subcommands.ExitUsageError
}
