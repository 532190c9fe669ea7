package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"hostwarden/config"
	"hostwarden/handlers"
	"hostwarden/internal/journal"
	"hostwarden/internal/store"
	"hostwarden/services/datacenter"
	machinesvc "hostwarden/services/machines"
	"hostwarden/services/monitor"
	"hostwarden/services/notify"
	"hostwarden/utils"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the configuration file")
	logPath := flag.String("log", "", "optional log file with rotation; empty logs to stderr only")
	flag.Parse()

	if *logPath != "" {
		log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   *logPath,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
		}))
	}

	if err := run(*configPath); err != nil {
		log.Fatalf("[main] %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.NewManager(configPath).Load()
	if err != nil {
		return err
	}

	osFs := afero.NewOsFs()
	st, err := store.Open(osFs, cfg.Storage.StatePath)
	if err != nil {
		return err
	}

	jrnl, err := journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer jrnl.Close()

	source := datacenter.NewFileSource(osFs, cfg.Datacenter.SnapshotPath)
	sender := notify.NewBridgeClient(cfg.Bridge.URL, cfg.Bridge.AuthToken, cfg.Bridge.Timeout())
	actions := machinesvc.NewService(st, source)

	expirationMon := monitor.NewExpirationMonitor(st, sender, jrnl,
		cfg.Monitor.ExpirationInterval(), cfg.Monitor.ExpirationStartupDelay())
	datacenterMon := monitor.NewDatacenterMonitor(st, source, sender, jrnl,
		cfg.Monitor.DatacenterInterval(), cfg.Monitor.DatacenterStartupDelay())

	router := utils.NewRouter()
	handlers.NewMachineHandler(actions).Register(router)
	handlers.NewMonitoringHandler(actions, jrnl).Register(router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		expirationMon.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		datacenterMon.Run(ctx)
	}()

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[main] server shutdown: %v", err)
		}
	}()

	log.Printf("[main] hostwarden listening on %s", cfg.Server.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		wg.Wait()
		return err
	}

	// Let any in-flight monitor tick (and its store flush) finish before
	// the process exits.
	wg.Wait()
	log.Printf("[main] shut down cleanly")
	return nil
}
