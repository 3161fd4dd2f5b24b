// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpapi"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/must"
	"github.com/sapcc/go-bits/osext"

	"github.com/insightzen/dialerd/internal/api"
	"github.com/insightzen/dialerd/internal/bank"
	"github.com/insightzen/dialerd/internal/collector"
	"github.com/insightzen/dialerd/internal/core"
	"github.com/insightzen/dialerd/internal/db"
	"github.com/insightzen/dialerd/internal/pprofapi"
)

func main() {
	bininfo.HandleVersionArgument()
	logg.ShowDebug = osext.GetenvBool("DIALERD_DEBUG")

	// first two arguments must be task name and configuration file
	if len(os.Args) != 3 {
		printUsageAndExit()
	}
	taskName, configPath := os.Args[1], os.Args[2]

	cfg := must.Return(core.NewConfig(configPath))

	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)
	var task func(context.Context, core.Config) error
	switch taskName {
	case "serve":
		task = taskServe
	case "sweep":
		task = taskSweep
	case "migrate":
		task = taskMigrate
	default:
		printUsageAndExit()
	}

	err := task(ctx, cfg)
	if err != nil {
		logg.Fatal(err.Error())
	}
}

func printUsageAndExit() {
	fmt.Fprintf(os.Stderr, "Usage: %s (serve|sweep|migrate) <config-file>\n", os.Args[0])
	os.Exit(1)
}

// task: migrate

func taskMigrate(_ context.Context, _ core.Config) error {
	// easypg applies pending migrations while connecting
	_, err := db.Init()
	if err == nil {
		logg.Info("migrations are up to date")
	}
	return err
}

// task: serve

func taskServe(ctx context.Context, cfg core.Config) error {
	dbm, err := db.Init()
	if err != nil {
		return err
	}
	gw, err := bank.NewGateway(cfg.Bank.Schema)
	if err != nil {
		return err
	}

	handler := httpapi.Compose(
		api.NewV1API(dbm, cfg, gw, time.Now),
		pprofapi.API{IsAuthorized: pprofapi.IsRequestFromLocalhost},
	)

	mainRouter := mux.NewRouter()
	mainRouter.Path("/metrics").Handler(promhttp.Handler())
	mainRouter.PathPrefix("/").Handler(handler)

	var outerHandler http.Handler = mainRouter
	if len(cfg.API.CORSAllowedOrigins) > 0 {
		outerHandler = cors.New(cors.Options{
			AllowedOrigins: cfg.API.CORSAllowedOrigins,
			AllowedMethods: []string{"HEAD", "GET", "POST", "PUT"},
			AllowedHeaders: []string{"Content-Type", "User-Agent", "X-Interviewer-ID"},
		}).Handler(outerHandler)
	}

	logg.Info("listening on " + cfg.API.ListenAddress)
	return httpext.ListenAndServeContext(ctx, cfg.API.ListenAddress, outerHandler)
}

// task: sweep

func taskSweep(ctx context.Context, cfg core.Config) error {
	dbm, err := db.Init()
	if err != nil {
		return err
	}
	gw, err := bank.NewGateway(cfg.Bank.Schema)
	if err != nil {
		return err
	}

	c := collector.NewCollector(dbm, cfg.Dialer, gw)
	go c.ExpireAssignmentsJob(nil).Run(ctx)
	go c.ReplenishPoolsJob(nil).Run(ctx, jobloop.NumGoroutines(1))

	// use the main goroutine to emit Prometheus metrics
	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.Handler())
	metricsListenAddr := osext.GetenvOrDefault("DIALERD_SWEEP_METRICS_LISTEN_ADDRESS", ":8081")
	logg.Info("listening on " + metricsListenAddr)
	return httpext.ListenAndServeContext(ctx, metricsListenAddr, handler)
}
