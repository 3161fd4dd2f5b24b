// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"

	"github.com/insightzen/dialerd/internal/datamodel"
)

// ExpireAssignmentsJob is a jobloop.CronJob.
//
// It expires reservations that have outlived their TTL, releasing the sample
// contacts and quota cell slots they held. ReserveNext performs the same
// sweep for its own project on every call; this job catches the reservations
// of projects where nobody is currently dialing.
func (c *Collector) ExpireAssignmentsJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.CronJob{
		Metadata: jobloop.JobMetadata{
			ReadableName: "expire overdue assignments",
			CounterOpts: prometheus.CounterOpts{
				Name: "dialerd_assignment_expirations",
				Help: "Counts runs of the assignment expiration job.",
			},
		},
		Interval: c.Cfg.SweepInterval,
		Task:     c.expireOverdueAssignments,
	}).Setup(registerer)
}

func (c *Collector) expireOverdueAssignments(_ context.Context, _ prometheus.Labels) error {
	expired, err := datamodel.SweepExpired(c.DB, nil, c.MeasureTime())
	if expired > 0 {
		logg.Info("expired %d overdue assignments", expired)
	}
	return err
}
