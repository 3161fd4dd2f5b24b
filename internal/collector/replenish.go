// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/sqlext"

	"github.com/insightzen/dialerd/internal/datamodel"
	"github.com/insightzen/dialerd/internal/db"
)

// ReplenishPoolsJob is a jobloop.ProducerConsumerJob.
//
// It finds quota cells of published schemes on active projects whose pool of
// available samples has dropped below the configured low-water mark, and
// rebuilds their pools from the bank. Cells are rechecked at most once per
// replenish interval, so a drained bank does not cause a tight query loop.
func (c *Collector) ReplenishPoolsJob(registerer prometheus.Registerer) jobloop.Job {
	return (&jobloop.ProducerConsumerJob[replenishTask]{
		Metadata: jobloop.JobMetadata{
			ReadableName: "replenish sample pools",
			CounterOpts: prometheus.CounterOpts{
				Name: "dialerd_pool_replenishments",
				Help: "Counts rebuilds of drained sample pools.",
			},
		},
		DiscoverTask: c.discoverReplenishTask,
		ProcessTask:  c.processReplenishTask,
	}).Setup(registerer)
}

type replenishTask struct {
	CellID db.QuotaCellID
}

var (
	// the NOT EXISTS clause cheaply skips cells that still have enough
	// samples; the exact count does not matter above the low-water mark
	findDrainedCellQuery = sqlext.SimplifyWhitespace(`
		SELECT qc.id FROM quota_cells qc
		  JOIN quota_schemes qs ON qs.id = qc.scheme_id
		  JOIN projects p ON p.id = qs.project_id
		 WHERE qs.status = 'published' AND p.status = 'active'
		   AND qc.next_replenish_at <= $1
		   AND (SELECT COUNT(*) FROM sample_contacts sc
		         WHERE sc.quota_cell_id = qc.id
		           AND sc.status = 'available' AND sc.is_active) < $2
		 ORDER BY qc.next_replenish_at ASC
		 LIMIT 1
	`)
	checkpointCellQuery = sqlext.SimplifyWhitespace(`
		UPDATE quota_cells SET next_replenish_at = $2 WHERE id = $1
	`)
)

func (c *Collector) discoverReplenishTask(_ context.Context, _ prometheus.Labels) (replenishTask, error) {
	if c.Cfg.PoolLowWater <= 0 {
		// job is disabled by configuration
		return replenishTask{}, sql.ErrNoRows
	}
	now := c.MeasureTime()

	var task replenishTask
	err := c.DB.SelectOne(&task.CellID, findDrainedCellQuery, now, c.Cfg.PoolLowWater)
	if err != nil {
		return replenishTask{}, err
	}

	// claim the cell before processing, so a failed rebuild is not retried in
	// a hot loop
	_, err = c.DB.Exec(checkpointCellQuery, task.CellID, now.Add(c.AddJitter(c.Cfg.ReplenishInterval)))
	if err != nil {
		return replenishTask{}, err
	}
	return task, nil
}

func (c *Collector) processReplenishTask(_ context.Context, task replenishTask, _ prometheus.Labels) error {
	result, err := datamodel.BuildPoolForCell(c.DB, c.Bank, c.Cfg, task.CellID, nil, c.MeasureTime())
	if err != nil {
		return fmt.Errorf("while replenishing pool of cell %d: %w", task.CellID, err)
	}
	logg.Info("replenished pool of cell %d: %d candidates, %d new samples",
		task.CellID, result.Attempted, result.Inserted)
	return nil
}
