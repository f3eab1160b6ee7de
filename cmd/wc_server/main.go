// Command wc_server runs the workflow controller service.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JoDio-zd/DistributeDataBase/api/wchttp"
	"github.com/JoDio-zd/DistributeDataBase/config"
	"github.com/JoDio-zd/DistributeDataBase/core/workflow"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
	"github.com/JoDio-zd/DistributeDataBase/pkg/client"
	"github.com/JoDio-zd/DistributeDataBase/pkg/logger"
)

var (
	configPath = flag.String("config", "wc.yaml", "Path to the WC config file")
	listenAddr = flag.String("listen", "", "Override the configured listen address")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	var cfg config.WC
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Fatalf("CRITICAL: load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("CRITICAL: invalid config: %v", err)
	}

	zlogger := logger.New("wc", cfg.Log)
	defer zlogger.Sync()

	opts := client.Options{Timeout: cfg.RequestTimeout.Std()}
	controller := workflow.New(workflow.Clients{
		TM:           client.NewTM(cfg.TMURL, opts),
		Flights:      client.NewRM(cfg.FlightsURL, opts),
		Hotels:       client.NewRM(cfg.HotelsURL, opts),
		Cars:         client.NewRM(cfg.CarsURL, opts),
		Customers:    client.NewRM(cfg.CustomersURL, opts),
		Reservations: client.NewRM(cfg.ReservationsURL, opts),
	}, workflow.Config{
		AutoAbort:     cfg.AutoAbortEnabled(),
		CommitTimeout: cfg.CommitTimeout.Std(),
	}, zlogger)

	metrics := telemetry.New("wc")
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: wchttp.NewServer(controller, zlogger, metrics, nil),
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zlogger.Info("workflow controller listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlogger.Fatal("http server", zap.Error(err))
		}
	}()

	<-stop
	zlogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
