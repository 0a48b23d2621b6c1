package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/kioskeeper/internal/flagx"
)

// parseFlags populates selected coordinator Config fields from command-line
// flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   sqlite DSN
//	-k string   kiosk HMAC secret key
//	-s string   staff API token
//
// Fleet provisioning and timing tunables are JSON-only: they are structured
// values that do not map cleanly onto short flags.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.KioskSecretKey, "k", config.KioskSecretKey, "kiosk secret key")
	fs.StringVar(&config.StaffToken, "s", config.StaffToken, "staff API token")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
