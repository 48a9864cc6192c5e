// instanceplane
// (C) 2024, Deutsche Telekom IT GmbH
//
// Deutsche Telekom IT GmbH and all other contributors /
// copyright owners license this file to you under the Apache
// License, Version 2.0 (the "License"); you may not use this
// file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package api

import (
	"net/http"
	"time"

	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/caas-team/instanceplane/pkg/instance"
)

// handleAutoStopStats resolves GET /api/instances/auto-stop/stats: a
// read-only recomputation of the same idle-candidate scan the
// auto-stop-check job handler runs, without mutating anything.
func (s *Server) handleAutoStopStats(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.AutoStop
	now := time.Now()

	snapshot := s.deps.Store.List(instance.Filter{Status: []instance.Status{instance.StatusRunning, instance.StatusReady}})
	candidates := 0
	for _, inst := range snapshot {
		idleSince := inst.Timestamps.LastUsed
		if idleSince.IsZero() && inst.Timestamps.Started != nil {
			idleSince = *inst.Timestamps.Started
		}
		if idleSince.IsZero() {
			idleSince = inst.Timestamps.Created
		}
		if now.Sub(idleSince) >= cfg.InactivityThresholdMinute {
			candidates++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":                   cfg.Enabled,
		"dryRun":                    cfg.DryRun,
		"intervalMinutes":           cfg.IntervalMinutes.Minutes(),
		"inactivityThresholdMinutes": cfg.InactivityThresholdMinute.Minutes(),
		"scanned":                   len(snapshot),
		"candidates":                candidates,
	})
}

// handleAutoStopTrigger resolves POST /api/instances/auto-stop/trigger:
// runs one sweep immediately instead of waiting for the next tick.
func (s *Server) handleAutoStopTrigger(w http.ResponseWriter, r *http.Request) {
	if s.autoStop == nil {
		writeError(w, r, errs.Validation("auto-stop scheduler is disabled"))
		return
	}
	if err := s.autoStop.TriggerNow(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}
