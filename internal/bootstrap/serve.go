package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/pipeline"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/scheduler"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/server"
)

const (
	day             = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

// Serve runs the daemon until ctx ends: the ops server, one fetch cycle at
// startup, and both cycles on their configured intervals.
func Serve(ctx context.Context, app *App) error {
	cfg := app.Config

	srv := server.New(server.Config{
		Port:           cfg.Service.Port,
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Debug:          cfg.Service.Debug,
	}, app.Log, map[string]server.Checker{
		"database":      app.DB.PingContext,
		"elasticsearch": app.Documents.Ping,
	}, app.Metrics.Handler())

	sched := scheduler.New(app.Log)
	if err := sched.Add(pipeline.CycleFetch, time.Duration(cfg.Monitor.FetchIntervalDays)*day, FetchJob(app)); err != nil {
		return err
	}
	if err := sched.Add(pipeline.CycleMonitor, time.Duration(cfg.Monitor.CheckIntervalDays)*day, MonitorJob(app)); err != nil {
		return err
	}

	errCh := srv.StartAsync()
	sched.Start()

	initialCtx, cancelInitial := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Log.Info("Running startup fetch cycle")
		if err := FetchJob(app)(initialCtx); err != nil && !errors.Is(err, context.Canceled) {
			app.Log.Error("Startup fetch cycle failed", logger.Error(err))
		}
	}()

	var serveErr error
	select {
	case err, ok := <-errCh:
		if ok {
			serveErr = err
		}
	case <-ctx.Done():
		app.Log.Info("Shutdown requested")
	}

	cancelInitial()
	wg.Wait()

	//nolint:contextcheck // ctx is already done here
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, sched.Stop(shutdownCtx), srv.Shutdown(shutdownCtx))
}

// FetchJob runs one fetch cycle.
func FetchJob(app *App) scheduler.JobFunc {
	return func(ctx context.Context) error {
		_, err := app.Pipeline.RunFetch(ctx)
		return err
	}
}

// MonitorJob runs one monitor cycle.
func MonitorJob(app *App) scheduler.JobFunc {
	return func(ctx context.Context) error {
		_, err := app.Pipeline.RunMonitor(ctx)
		return err
	}
}
