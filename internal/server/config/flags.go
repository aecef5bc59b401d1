package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/fedid/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8090")
//	-g string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-n string   server name announced in federation pushes
//	-l string   log format: slog | zap
//	-r int      pepper rotation interval, minutes
//	-i int      directory refresh interval, minutes
//	-x bool     additional features (discloses inactive mappings); use -x=true
//	-t string   comma-separated trusted server IPs/CIDRs
//	-f bool     trust X-Forwarded-For; use -f=true
//	-m int      maximum addresses per lookup
//	-R string   Redis address for rate-limit counters
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, so subcommands and the -c flag pass through untouched.
//   - Interval flags are accepted as integers in minutes and only override
//     the current value when present.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-g", "-d", "-n", "-l", "-r", "-i", "-x", "-t", "-f", "-m", "-R"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run the HTTP API")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "address and port to run the gRPC health service")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.ServerName, "n", config.ServerName, "server name")
	fs.StringVar(&config.LogFormat, "l", config.LogFormat, "log format (slog|zap)")

	rotation := fs.Int("r", int(config.PepperRotationInterval.Minutes()), "pepper rotation interval (in minutes)")
	refresh := fs.Int("i", int(config.DirectoryRefreshInterval.Minutes()), "directory refresh interval (in minutes)")

	fs.BoolVar(&config.AdditionalFeatures, "x", config.AdditionalFeatures, "enable additional features")
	trusted := fs.String("t", strings.Join(config.TrustedServers, ","), "trusted server addresses (comma-separated)")
	fs.BoolVar(&config.TrustXForwardedFor, "f", config.TrustXForwardedFor, "trust X-Forwarded-For")
	fs.IntVar(&config.MaxAddressesPerLookup, "m", config.MaxAddressesPerLookup, "maximum addresses per lookup")
	fs.StringVar(&config.RedisAddr, "R", config.RedisAddr, "redis address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// Only explicitly given flags override, so sub-minute intervals coming
	// from a config file survive.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "r":
			config.PepperRotationInterval = time.Duration(*rotation) * time.Minute
		case "i":
			config.DirectoryRefreshInterval = time.Duration(*refresh) * time.Minute
		case "t":
			config.TrustedServers = splitList(*trusted)
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
