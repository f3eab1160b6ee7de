// Command rm_server runs one resource manager service over a single backing
// table.
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
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/JoDio-zd/DistributeDataBase/api/rmhttp"
	"github.com/JoDio-zd/DistributeDataBase/config"
	"github.com/JoDio-zd/DistributeDataBase/core/journal"
	"github.com/JoDio-zd/DistributeDataBase/core/pageio"
	"github.com/JoDio-zd/DistributeDataBase/core/resource"
	"github.com/JoDio-zd/DistributeDataBase/internal/telemetry"
	"github.com/JoDio-zd/DistributeDataBase/pkg/client"
	"github.com/JoDio-zd/DistributeDataBase/pkg/logger"
)

var (
	configPath = flag.String("config", "rm.yaml", "Path to the RM config file")
	listenAddr = flag.String("listen", "", "Override the configured listen address")
)

const shutdownTimeout = 5 * time.Second

func main() {
	flag.Parse()

	var cfg config.RM
	if err := config.Load(*configPath, &cfg); err != nil {
		log.Fatalf("CRITICAL: load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
		cfg.AdvertiseURL = ""
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("CRITICAL: invalid config: %v", err)
	}

	zlogger := logger.New("rm-"+cfg.Table, cfg.Log)
	defer zlogger.Sync()

	index, err := cfg.BuildIndex()
	if err != nil {
		zlogger.Fatal("build page index", zap.Error(err))
	}

	var backend pageio.PageIO
	if cfg.DSN != "" {
		db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			zlogger.Fatal("connect backing store", zap.Error(err))
		}
		backend, err = pageio.NewSQL(db, pageio.SQLConfig{
			Table:      cfg.Table,
			KeyColumns: cfg.SQLKeyColumns(),
		}, index, zlogger)
		if err != nil {
			zlogger.Fatal("build sql page io", zap.Error(err))
		}
	} else {
		zlogger.Warn("no DSN configured, using the in-memory backend")
		backend = pageio.NewMemory(index)
	}

	jrnl, err := journal.Open(cfg.JournalPath, zlogger)
	if err != nil {
		zlogger.Fatal("open prepare journal", zap.Error(err))
	}

	var enlister resource.Enlister
	if cfg.TMURL != "" {
		enlister = client.NewTM(cfg.TMURL, client.Options{})
	} else {
		zlogger.Warn("no TM configured, running without enlistment")
	}

	metrics := telemetry.New("rm-" + cfg.Table)
	rm := resource.New(resource.Config{
		Table:        cfg.Table,
		Endpoint:     cfg.AdvertiseURL,
		PoolCapacity: cfg.PoolCapacity,
	}, index, backend, jrnl, enlister, zlogger, metrics)

	if err := rm.Recover(); err != nil {
		zlogger.Fatal("recover prepared transactions", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(graceful bool) {
		if graceful {
			stop <- syscall.SIGTERM
			return
		}
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: rmhttp.NewServer(rm, zlogger, metrics, shutdown),
	}

	go func() {
		zlogger.Info("resource manager listening",
			zap.String("table", cfg.Table),
			zap.String("addr", cfg.ListenAddr),
			zap.String("advertise", cfg.AdvertiseURL))
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
