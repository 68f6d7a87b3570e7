// Command rtmqd runs the RTMQ broker. Generalized from the teacher's run.go
// (flag-parsed config path, logger built from config, signal-driven
// shutdown) to a single-process broker instead of a set of proxy listeners.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/qiware/rtmq/broker"
	"github.com/qiware/rtmq/config"
	"github.com/qiware/rtmq/utils"
)

// shutdownTimeout bounds how long graceful teardown (query sockets, metrics
// HTTP server, lock release) is allowed before the process exits anyway.
const shutdownTimeout = 5 * time.Second

func main() {
	confPath := flag.String("config", "", "path to the broker's YAML config file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *confPath != "" {
		cfg, err = config.Load(*confPath)
	} else {
		cfg = config.Default()
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtmqd: config error: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitLogger(cfg.Log)
	defer log.Sync()

	srv, err := broker.New(cfg, log)
	if err != nil {
		log.Error("failed to construct broker", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("rtmq broker starting", zap.String("name", cfg.Name), zap.Uint32("node_id", cfg.NodeID))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Launch(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error("broker exited", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown encountered errors", zap.Error(err))
	}
	log.Info("rtmq broker stopped")
}
