// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package test

import "time"

// NoJitter replaces Collector.AddJitter in unit tests, to provide
// deterministic behavior.
func NoJitter(d time.Duration) time.Duration {
	return d
}
