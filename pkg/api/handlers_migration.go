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

	"github.com/caas-team/instanceplane/pkg/errs"
)

// handleMigrationStatus resolves GET /api/migration/status: reports scheduler configuration and the most recent trigger, if any.
func (s *Server) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config.Migration
	status := map[string]any{
		"enabled":               cfg.Enabled,
		"dryRun":                cfg.DryRun,
		"intervalMinutes":       cfg.IntervalMinutes.Minutes(),
		"maxConcurrent":         cfg.MaxConcurrent,
		"retryFailedMigrations": cfg.RetryFailedMigrations,
	}
	if s.migration != nil {
		history := s.migration.History()
		status["totalTriggers"] = len(history)
		if len(history) > 0 {
			status["lastTriggeredAt"] = history[len(history)-1].TriggeredAt
		}
	}
	writeJSON(w, http.StatusOK, status)
}

// handleMigrationTrigger resolves POST /api/migration/trigger: runs one
// migration sweep immediately instead of waiting for the next tick.
func (s *Server) handleMigrationTrigger(w http.ResponseWriter, r *http.Request) {
	if s.migration == nil {
		writeError(w, r, errs.Validation("migration scheduler is disabled"))
		return
	}
	if err := s.migration.TriggerNow(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// handleMigrationHistory resolves GET /api/migration/history: the bounded, in-memory list of past migration triggers.
func (s *Server) handleMigrationHistory(w http.ResponseWriter, r *http.Request) {
	if s.migration == nil {
		writeJSON(w, http.StatusOK, map[string]any{"history": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": s.migration.History()})
}
