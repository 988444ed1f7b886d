package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/calllist-service/internal/callqueue"
	"gitlab.com/dirk.krummacker/calllist-service/internal/codec"
	"gitlab.com/dirk.krummacker/calllist-service/internal/config"
	"gitlab.com/dirk.krummacker/calllist-service/internal/export"
	"gitlab.com/dirk.krummacker/calllist-service/internal/metrics"
	"gitlab.com/dirk.krummacker/calllist-service/internal/service"
	"gitlab.com/dirk.krummacker/calllist-service/internal/store"
	"gitlab.com/dirk.krummacker/calllist-service/internal/telephony"
)

// Usage example on the command line:
// > PORT=8080 BACKEND=remote DBUSER=dirk DBPWD=bullo92 GIN_MODE=release GIN_LOGGING=OFF go run main.go
// > BACKEND=local SNAPSHOT_PATH=calllist.db go run main.go -env=.env
func main() {
	envFile := flag.String("env", ".env", "optional file with environment variables")
	flag.Parse()

	conf, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}
	logger, err := config.NewLogger(conf.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(conf, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(conf config.Config, logger *zap.Logger) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	var st store.Store
	opts := []callqueue.Option{
		callqueue.WithLocation(loc),
		callqueue.WithLogger(logger),
		callqueue.WithDialer(telephony.NewLogDialer(logger)),
	}
	switch conf.Backend {
	case config.BackendRemote:
		db, err := conf.MySQL.Connect()
		if err != nil {
			return err
		}
		defer db.Close()
		mysqlStore, err := store.NewMySQLStore(db, logger)
		if err != nil {
			return err
		}
		defer mysqlStore.Close()
		st = mysqlStore
		opts = append(opts, callqueue.WithOrdering(callqueue.LastCallOrder))
	default:
		sqliteStore, err := store.OpenSQLite(conf.SnapshotPath, logger)
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		st = sqliteStore
	}

	engine := callqueue.New(st, opts...)
	ctx := context.Background()
	if _, err := engine.Restore(ctx); err != nil {
		return err
	}
	metrics.SetQueueSize(engine.Total(), engine.PendingCount())

	c := codec.New(loc, nil)
	svc := service.New(engine, c, export.NewComposer(c, conf.FilePrefix), service.Config{
		MergeImports: conf.Backend == config.BackendRemote,
		HTTPLogging:  conf.HTTPLogging(),
	}, logger)

	server := &http.Server{
		Addr:              conf.Addr(),
		Handler:           svc.SetupHttpRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("call list service listening",
			zap.String("addr", server.Addr), zap.String("backend", conf.Backend))
		errs <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-stop:
		logger.Info("shutting down", zap.Stringer("signal", sig))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
