// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	vmcore "github.com/luxfi/oblivious"
	"github.com/luxfi/oblivious/vms/predictvm"
)

const (
	baseURL           = "/ext/predict"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a single prediction chain node",
		RunE:  runFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.NewLogger("predictvm")

	db, err := openDB(config.DataDir)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return err
	}

	instance, err := predictvm.NewDefaultFactory().New(logger)
	if err != nil {
		return err
	}
	vm := instance.(*predictvm.VM)

	toEngine := make(chan vmcore.Message, 1)
	err = vm.Initialize(ctx, &vmcore.Config{
		ChainID:      config.ChainID,
		DB:           db,
		GenesisBytes: config.GenesisBytes,
		ConfigBytes:  config.ConfigBytes,
		Log:          logger,
		Registerer:   registry,
		ToEngine:     toEngine,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chain: %w", err)
	}
	if err := vm.SetState(ctx, vmcore.NormalOp); err != nil {
		return err
	}

	handlers, err := vm.CreateHandlers(ctx)
	if err != nil {
		return err
	}
	router := mux.NewRouter()
	for endpoint, handler := range handlers {
		router.Handle(baseURL+endpoint, handler)
	}
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/health", healthHandler(vm)).Methods(http.MethodGet)

	server := &http.Server{
		Addr: config.Address,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   config.AllowedOrigins,
			AllowCredentials: true,
		}).Handler(router),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving API",
			log.String("address", config.Address),
			log.Stringer("chainID", config.ChainID),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return buildBlocks(ctx, logger, vm, toEngine, vm.BlockInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			server.Shutdown(shutdownCtx),
			vm.Shutdown(shutdownCtx),
		)
	})
	return g.Wait()
}

func openDB(dir string) (database.Database, error) {
	if dir == "" {
		return memdb.New(), nil
	}
	db, err := badgerdb.New(dir, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dir, err)
	}
	return db, nil
}

func healthHandler(vm *predictvm.VM) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := vm.HealthCheck(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
