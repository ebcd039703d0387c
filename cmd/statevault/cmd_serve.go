// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/statevault/pkg/logging"
	"github.com/AleutianAI/statevault/services/statevault/api"
)

var serveDebug bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the StateVault HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable debug logging and request logs")
}

func runServe() error {
	if serveDebug {
		gin.SetMode(gin.DebugMode)
		debugLogger, err := logging.New(logging.Config{
			Level:   logging.LevelDebug,
			LogDir:  cfg.Logging.Dir,
			Service: "statevault",
		})
		if err != nil {
			return err
		}
		slog.SetDefault(debugLogger.Logger)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := slog.Default()

	v, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	defer v.close()

	handlers := api.NewHandlers(v.store, v.docs, v.snaps)
	router := api.NewRouter(handlers, cfg.Server.RatePerSecond)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("statevault API listening",
			slog.Int("port", cfg.Server.Port),
			slog.String("storage", cfg.Storage.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
