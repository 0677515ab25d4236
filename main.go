package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/warden/cmd"
	"grimm.is/warden/internal/brand"
)

var printer = cmd.Printer

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config-file", brand.ConfigPath(), "Configuration file")
		runFlags.StringVar(configFile, "c", brand.ConfigPath(), "Configuration file (short)")
		logFile := runFlags.String("log-file", "", "Also write logs to this file (rotated)")
		verbose := runFlags.Bool("verbose", false, "Debug logging")
		runFlags.BoolVar(verbose, "v", false, "Debug logging (short)")
		runFlags.Parse(os.Args[2:])

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err = cmd.RunDaemon(ctx, cmd.RunOptions{
			ConfigFile: *configFile,
			LogFile:    *logFile,
			Verbose:    *verbose,
		})
		stop()

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		configFile := checkFlags.String("config-file", brand.ConfigPath(), "Configuration file")
		checkFlags.StringVar(configFile, "c", brand.ConfigPath(), "Configuration file (short)")
		verbose := checkFlags.Bool("verbose", false, "Print the effective rule table")
		checkFlags.BoolVar(verbose, "v", false, "Print the effective rule table (short)")
		checkFlags.Parse(os.Args[2:])
		if checkFlags.NArg() > 0 {
			*configFile = checkFlags.Arg(0)
		}
		err = cmd.RunCheck(*configFile, *verbose)

	case "fmt":
		fmtFlags := flag.NewFlagSet("fmt", flag.ExitOnError)
		configFile := fmtFlags.String("config-file", brand.ConfigPath(), "Configuration file")
		write := fmtFlags.Bool("write", false, "Rewrite the file in canonical form")
		fmtFlags.BoolVar(write, "w", false, "Rewrite the file (short)")
		fmtFlags.Parse(os.Args[2:])
		if fmtFlags.NArg() > 0 {
			*configFile = fmtFlags.Arg(0)
		}
		err = cmd.RunFmt(*configFile, *write)

	case "init":
		initFlags := flag.NewFlagSet("init", flag.ExitOnError)
		configFile := initFlags.String("config-file", brand.ConfigPath(), "Where to write the configuration")
		force := initFlags.Bool("force", false, "Overwrite an existing file")
		initFlags.Parse(os.Args[2:])
		err = cmd.RunInit(*configFile, *force)

	case "status":
		err = cmd.RunStatus(os.Args[2:])
	case "block":
		err = cmd.RunBlock(os.Args[2:])
	case "unblock":
		err = cmd.RunUnblock(os.Args[2:])
	case "blocklist":
		err = cmd.RunBlocklist(os.Args[2:])
	case "country":
		err = cmd.RunCountry(os.Args[2:])
	case "threat-protection":
		err = cmd.RunThreatProtection(os.Args[2:])
	case "reload":
		err = cmd.RunReload(os.Args[2:])
	case "start":
		err = cmd.RunCapture(true, os.Args[2:])
	case "stop":
		err = cmd.RunCapture(false, os.Args[2:])
	case "logs":
		err = cmd.RunLogs(os.Args[2:])
	case "watch":
		err = cmd.RunWatch(os.Args[2:])

	case "hash-token":
		err = cmd.RunHashToken(os.Args[2:])

	case "version":
		printer.Printf("%s version %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		printer.Fprintf(os.Stderr, "%s %s: %v\n", brand.LowerName, os.Args[1], err)
		if errors.Is(err, cmd.ErrUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Daemon:
  run        Run the firewall in the foreground
             Options: --config-file (-c) <file>, --log-file <file>, --verbose (-v)

Configuration:
  check      Validate a configuration file
             Options: --config-file (-c) <file>, --verbose (-v)
  fmt        Show the diff to canonical formatting
             Options: --config-file <file>, --write (-w)
  init       Write the default configuration
             Options: --config-file <file>, --force
  hash-token Print the bcrypt hash of an API token (reads stdin without argument)

Management (talk to a running daemon, --api <addr> --token <token>):
  status             Show daemon status
  start | stop       Start or stop packet capture
  block <ip>         Block an address (--duration 1h, default permanent)
  unblock <ip>       Remove an address from the blocklist
  blocklist          List blocked addresses
  country <op>       block <code> | unblock <code> | list | enable | disable
  threat-protection  Block the threat baseline countries
  reload             Re-read the daemon's configuration file
  logs               Show recent log lines (-n 50, --component traffic)
  watch              Stream events (--types blocklist.added,decision.block, --json)

  version    Print version

Environment:
  %s_API        API address (default %s)
  %s_TOKEN      API bearer token
  %s_CONFIG_DIR Configuration directory
`,
		brand.Name, brand.Get().Description,
		brand.LowerName,
		brand.ConfigEnvPrefix, brand.Get().DefaultAPIListen,
		brand.ConfigEnvPrefix,
		brand.ConfigEnvPrefix)
}
