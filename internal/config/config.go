// Package config parses and validates the CLI surface of spec.md §6.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// MultiplexMode selects the spec.md §4.8 multiplexing policy.
type MultiplexMode string

const (
	MultiplexNever  MultiplexMode = "never"
	MultiplexAlways MultiplexMode = "always"
	MultiplexAuto   MultiplexMode = "auto"
)

// Config is the fully parsed and validated CLI configuration.
type Config struct {
	Port               int
	MaxClients         int
	Threads            int
	TCPKeepAlive       time.Duration
	Daemonize          bool
	DisableMultiplex   MultiplexMode
	Auth               string
	DisableColors      bool
	LogLevel           string
	DumpQueries        bool
	DumpBuffer         bool
	MetricsAddr        string
	EnvFile            string
	BootstrapAddr      string // "host:port" or a UNIX socket path
	BootstrapIsUnix    bool
}

const (
	defaultPort       = 7777
	defaultMaxClients = 10_000_000
	defaultThreads    = 8
	minThreads        = 1
	maxThreads        = 500
	defaultKeepAlive  = 300 * time.Second
)

// Parse parses argv (excluding the program name) into a validated Config.
// It prints usage and returns (_, false, nil) when -h/--help was requested
// (caller should exit 0), and a non-nil error for any other invalid
// invocation (caller exits 1 per spec.md §6).
func Parse(argv []string) (cfg Config, runnable bool, err error) {
	fs := pflag.NewFlagSet("cluster-proxy", pflag.ContinueOnError)
	fs.Usage = func() { printUsage(fs) }

	port := fs.IntP("port", "p", defaultPort, "Listen port")
	maxClients := fs.Int("max-clients", defaultMaxClients, "Client cap")
	threads := fs.Int("threads", defaultThreads, "Worker count")
	tcpKeepAlive := fs.Int("tcpkeepalive", 300, "Keep-alive probe interval seconds (stored in the config; not applied to any connection)")
	daemonize := fs.Bool("daemonize", false, "Accepted; logs a warning and keeps running in the foreground")
	disableMux := fs.String("disable-multiplexing", string(MultiplexAuto), "never / auto / always")
	auth := fs.StringP("auth", "a", "", "Back-end authentication secret")
	disableColors := fs.Bool("disable-colors", false, "Plain log output")
	logLevel := fs.String("log-level", "info", "debug / info / success / warning / error")
	dumpQueries := fs.Bool("dump-queries", false, "Debug-level argument dumping")
	dumpBuffer := fs.Bool("dump-buffer", false, "Debug-level raw buffer dumping")
	metricsAddr := fs.String("metrics-addr", "127.0.0.1:9180", "Admin/metrics HTTP bind address, empty disables it")
	envFile := fs.String("env-file", "", "Optional .env file loaded before flags are applied")
	help := fs.BoolP("help", "h", false, "Print usage and exit 0")

	// godotenv is loaded before fs.Parse reads process args so CLUSTER_PROXY_AUTH
	// (etc.) can seed os.Environ without appearing on the command line; pflag
	// itself only reads argv, so we pre-scan argv for --env-file.
	if path := preScanEnvFile(argv); path != "" {
		_ = godotenv.Load(path)
	}

	if err := fs.Parse(argv); err != nil {
		return Config{}, false, err
	}
	if *help {
		printUsage(fs)
		return Config{}, false, nil
	}

	if v := os.Getenv("CLUSTER_PROXY_AUTH"); v != "" && *auth == "" {
		*auth = v
	}

	if *threads < minThreads || *threads > maxThreads {
		return Config{}, false, fmt.Errorf("--threads must be between %d and %d, got %d", minThreads, maxThreads, *threads)
	}
	mode := MultiplexMode(*disableMux)
	switch mode {
	case MultiplexNever, MultiplexAlways, MultiplexAuto:
	default:
		return Config{}, false, fmt.Errorf("invalid --disable-multiplexing %q, must be never/auto/always", *disableMux)
	}

	args := fs.Args()
	if len(args) != 1 {
		return Config{}, false, fmt.Errorf("expected exactly one positional argument: host:port or a UNIX socket path")
	}
	bootstrapAddr, isUnix, err := parseBootstrapTarget(args[0])
	if err != nil {
		return Config{}, false, err
	}

	cfg = Config{
		Port:             *port,
		MaxClients:       *maxClients,
		Threads:          *threads,
		TCPKeepAlive:     time.Duration(*tcpKeepAlive) * time.Second,
		Daemonize:        *daemonize,
		DisableMultiplex: mode,
		Auth:             *auth,
		DisableColors:    *disableColors,
		LogLevel:         *logLevel,
		DumpQueries:      *dumpQueries,
		DumpBuffer:       *dumpBuffer,
		MetricsAddr:      *metricsAddr,
		EnvFile:          *envFile,
		BootstrapAddr:    bootstrapAddr,
		BootstrapIsUnix:  isUnix,
	}
	return cfg, true, nil
}

func preScanEnvFile(argv []string) string {
	for i, a := range argv {
		if a == "--env-file" && i+1 < len(argv) {
			return argv[i+1]
		}
		if strings.HasPrefix(a, "--env-file=") {
			return strings.TrimPrefix(a, "--env-file=")
		}
	}
	return ""
}

// parseBootstrapTarget recognizes "host:port" or a UNIX socket path (an
// argument starting with '/'); anything else without a numeric ":port"
// suffix is rejected.
func parseBootstrapTarget(arg string) (addr string, isUnix bool, err error) {
	if strings.HasPrefix(arg, "/") {
		return arg, true, nil
	}
	i := strings.LastIndexByte(arg, ':')
	if i <= 0 || i == len(arg)-1 {
		return "", false, fmt.Errorf("malformed bootstrap address %q: expected host:port or an absolute UNIX socket path", arg)
	}
	for _, c := range arg[i+1:] {
		if c < '0' || c > '9' {
			return "", false, fmt.Errorf("malformed bootstrap address %q: non-numeric port", arg)
		}
	}
	return arg, false, nil
}

func printUsage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: cluster-proxy [options] host:port|/path/to/socket")
	fs.PrintDefaults()
}
