// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

// Package collector contains the background jobs of dialerd: the TTL sweeper
// and the sample pool replenisher.
package collector

import (
	"math/rand"
	"time"

	gorp "github.com/go-gorp/gorp/v3"
	"github.com/sapcc/go-bits/logg"

	"github.com/insightzen/dialerd/internal/bank"
	"github.com/insightzen/dialerd/internal/core"
)

// Collector provides methods that implement the background jobs performed by
// `dialerd sweep`. The struct holds everything that unit tests need to swap
// for a mock implementation.
type Collector struct {
	DB   *gorp.DbMap
	Cfg  core.DialerConfig
	Bank bank.Gateway

	// MeasureTime is usually time.Now, but can be changed inside unit tests.
	MeasureTime func() time.Time
	// AddJitter is usually addJitter, but can be changed inside unit tests.
	AddJitter func(time.Duration) time.Duration
	// LogError is usually logg.Error, but can be changed inside unit tests.
	LogError func(msg string, args ...any)
	// Once suppresses the usual non-returning behavior of collector jobs.
	Once bool
}

// NewCollector creates a Collector instance.
func NewCollector(dbm *gorp.DbMap, cfg core.DialerConfig, gw bank.Gateway) *Collector {
	return &Collector{
		DB:          dbm,
		Cfg:         cfg,
		Bank:        gw,
		MeasureTime: time.Now,
		AddJitter:   addJitter,
		LogError:    logg.Error,
	}
}

// addJitter returns a random duration within +/- 10% of the requested value.
// This spreads out jobs that would otherwise be scheduled right next to each
// other, without corrupting the individual schedules too much.
func addJitter(duration time.Duration) time.Duration {
	//nolint:gosec // This is not crypto-relevant, so math/rand is okay.
	r := rand.Float64() //NOTE: 0 <= r < 1
	return time.Duration(float64(duration) * (0.9 + 0.2*r))
}
