package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/kioskeeper/internal/flagx"
)

// parseFlags populates selected kiosk Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-e string   coordinator base URL
//	-i string   kiosk id
//	-k string   kiosk HMAC secret key
//	-p string   serial device (e.g., "/dev/ttyUSB0")
//	-b int      baud rate
//	-r          emergency close-all on the bus, then exit
//
// Card layout and timing tunables are JSON-only.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-e", "-i", "-k", "-p", "-b", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.CoordinatorURL, "e", config.CoordinatorURL, "coordinator base URL")
	fs.StringVar(&config.KioskID, "i", config.KioskID, "kiosk id")
	fs.StringVar(&config.SecretKey, "k", config.SecretKey, "kiosk secret key")
	fs.StringVar(&config.SerialDevice, "p", config.SerialDevice, "serial device")
	fs.IntVar(&config.BaudRate, "b", config.BaudRate, "baud rate")
	fs.BoolVar(&config.ResetBus, "r", config.ResetBus, "close all relays and exit")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
