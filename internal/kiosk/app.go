// Package kiosk initializes and runs the on-site agent: it opens the RS-485
// bus, wires the relay driver to the coordinator client, and runs the poll
// loop until shutdown.
package kiosk

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/kioskeeper/internal/kiosk/agent"
	"github.com/dmitrijs2005/kioskeeper/internal/kiosk/config"
	"github.com/dmitrijs2005/kioskeeper/internal/kiosk/modbus"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
)

// Version is the agent build tag reported on every heartbeat. Overridden at
// build time with -ldflags.
var Version = "N/A"

type App struct {
	config *config.Config
	logger logging.Logger
	driver *modbus.Driver
	agent  *agent.Agent
}

func NewApp(c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout)

	port, err := modbus.OpenPort(c.SerialDevice, c.BaudRate, c.ReadTimeout)
	if err != nil {
		return nil, err
	}

	cards := make([]modbus.Card, 0, len(c.Cards))
	for _, card := range c.Cards {
		cards = append(cards, modbus.Card{Address: card.Address, Channels: card.Channels})
	}

	driver := modbus.NewDriver(port, modbus.Config{
		Cards:         cards,
		Pulse:         c.Pulse,
		Retries:       c.Retries,
		RetryDelay:    c.RetryDelay,
		Spacing:       c.Spacing,
		CardAutoReset: c.CardAutoReset,
	}, logger)

	client := agent.NewClient(c.CoordinatorURL, c.KioskID, c.SecretKey)
	a := agent.NewAgent(client, driver, c.HeartbeatInterval, Version, logger)

	return &App{
		config: c,
		logger: logger,
		driver: driver,
		agent:  a,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)

	// Staff recovery path: de-energize every relay and exit without ever
	// contacting the coordinator.
	if app.config.ResetBus {
		app.logger.Info(ctx, "resetting bus", "device", app.config.SerialDevice)
		if err := app.driver.CloseAll(ctx); err != nil {
			app.logger.Error(ctx, "bus reset error", "error", err)
		}
		app.close(ctx)
		return
	}

	app.logger.Info(ctx, "Starting kiosk agent...",
		"kiosk_id", app.config.KioskID, "version", Version)

	app.agent.Run(ctx)

	app.close(ctx)
}

func (app *App) close(ctx context.Context) {
	if err := app.driver.Close(); err != nil {
		app.logger.Error(ctx, "port close error", "error", err)
	}
}
