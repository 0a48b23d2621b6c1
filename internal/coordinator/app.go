// Package coordinator initializes and runs the shared command/state backend:
// it opens the embedded store, runs migrations, provisions lockers, and
// starts the HTTP API together with the background sweeps.
package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/config"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/dispatch"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/httpapi"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/repositories/repomanager"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/sessions"
	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/statemachine"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	machine  *statemachine.Service
	sessions *sessions.Manager
	dispatch *dispatch.Service
	server   *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout)

	rm, err := repomanager.NewSQLiteRepositoryManager()
	if err != nil {
		return nil, fmt.Errorf("repository manager init error: %w", err)
	}

	db, err := sql.Open("sqlite", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	machine := statemachine.NewService(db, rm, c.ReservationTTL, logger)

	if err := provision(ctx, machine, c); err != nil {
		return nil, fmt.Errorf("locker provisioning error: %w", err)
	}

	d := dispatch.NewService(db, rm, machine, dispatch.Options{
		MaxAttempts:       c.CommandMaxAttempts,
		BackoffBase:       c.CommandBackoffBase,
		BackoffMax:        c.CommandBackoffMax,
		LivenessThreshold: c.LivenessThreshold,
		DispatchTimeout:   c.CommandDispatchTimeout,
		Retention:         c.CommandRetention,
	}, logger)

	sm := sessions.NewManager(machine, d, sessions.Options{
		TTL:        c.SessionTTL,
		Candidates: c.SessionCandidates,
	}, logger)

	server := httpapi.NewServer(c.EndpointAddrHTTP, machine, sm, d, c.KioskSecretKey, c.StaffToken, logger)

	return &App{
		config:   c,
		logger:   logger,
		db:       db,
		machine:  machine,
		sessions: sm,
		dispatch: d,
		server:   server,
	}, nil
}

// provision creates the locker rows declared in the fleet config. Lockers
// are numbered from 1 to match the relay channel mapping on the kiosk.
func provision(ctx context.Context, machine *statemachine.Service, c *config.Config) error {
	for _, kiosk := range c.Kiosks {
		vip := make(map[int]bool, len(kiosk.VipLockers))
		for _, id := range kiosk.VipLockers {
			vip[id] = true
		}
		specs := make([]statemachine.LockerSpec, 0, kiosk.LockerCount)
		for id := 1; id <= kiosk.LockerCount; id++ {
			specs = append(specs, statemachine.LockerSpec{LockerID: id, IsVip: vip[id]})
		}
		if err := machine.Provision(ctx, kiosk.KioskID, specs); err != nil {
			return err
		}
	}
	return nil
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

	app.logger.Info(ctx, "Starting coordinator...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.machine.RunSweeper(ctx, app.config.SweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.sessions.Run(ctx, app.config.SweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.dispatch.RunReclaimer(ctx, app.config.SweepInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.dispatch.RunJanitor(ctx, app.config.JanitorInterval)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
