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
	"context"
	"net/http"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/provider"
)

// mergeSource classifies where a comprehensive-listing record came from.
type mergeSource string

const (
	sourceLocal  mergeSource = "local"
	sourceNovita mergeSource = "novita"
	sourceMerged mergeSource = "merged"
)

// dataConsistency classifies whether local and provider truth agree.
type dataConsistency string

const (
	consistencyConsistent  dataConsistency = "consistent"
	consistencyLocalNewer  dataConsistency = "local-newer"
	consistencyNovitaNewer dataConsistency = "novita-newer"
	consistencyConflicted  dataConsistency = "conflicted"
)

// mergedInstance is one row of the comprehensive listing.
type mergedInstance struct {
	InstanceID      string              `json:"instanceId,omitempty"`
	ProviderID      string              `json:"providerId,omitempty"`
	Name            string              `json:"name,omitempty"`
	Source          mergeSource         `json:"source"`
	DataConsistency dataConsistency     `json:"dataConsistency"`
	Local           *instance.Instance  `json:"local,omitempty"`
	Provider        *provider.Instance  `json:"provider,omitempty"`
}

// handleComprehensiveListing resolves GET /api/instances/comprehensive
//: fuse a read-only snapshot of the local store with a full
// paged provider snapshot, classify each merged record's source and
// consistency, and optionally reconcile local state when syncLocalState
// is true.
func (s *Server) handleComprehensiveListing(w http.ResponseWriter, r *http.Request) {
	syncLocal := r.URL.Query().Get("syncLocalState") == "true"
	includeNovitaOnly := r.URL.Query().Get("includeNovitaOnly") != "false"

	overallStart := time.Now()

	localStart := time.Now()
	local := s.deps.Store.Snapshot()
	localPhase := time.Since(localStart)

	fetchStart := time.Now()
	providerByID, hits, misses, err := s.fetchAllProviderInstances(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	fetchPhase := time.Since(fetchStart)

	mergeStart := time.Now()
	merged := mergeComprehensive(local, providerByID, includeNovitaOnly)
	if syncLocal {
		s.reconcileLocalState(r.Context(), merged)
	}
	mergePhase := time.Since(mergeStart)

	cacheRatio := 0.0
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"instances": merged,
		"performance": map[string]any{
			"localPhaseMs":    localPhase.Milliseconds(),
			"providerPhaseMs": fetchPhase.Milliseconds(),
			"mergePhaseMs":    mergePhase.Milliseconds(),
			"totalMs":         time.Since(overallStart).Milliseconds(),
			"cacheHitRatio":   cacheRatio,
		},
	})
}

// fetchAllProviderInstances pages through the full provider instance
// listing, returning a map keyed by provider ID, plus the provider
// client's combined products+templates cache hit/miss counters for the
// performance block.
func (s *Server) fetchAllProviderInstances(ctx context.Context) (map[string]provider.Instance, uint64, uint64, error) {
	out := make(map[string]provider.Instance)
	token := ""
	for {
		page, err := s.deps.Provider.ListInstances(ctx, token)
		if err != nil {
			return nil, 0, 0, err
		}
		for _, inst := range page.Instances {
			out[inst.ID] = inst
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	ph, pm, th, tm := s.deps.Provider.CacheStats()
	return out, ph + th, pm + tm, nil
}

// mergeComprehensive fuses a local snapshot with a provider-ID-keyed
// provider snapshot.
func mergeComprehensive(local []instance.Instance, providerByID map[string]provider.Instance, includeNovitaOnly bool) []mergedInstance {
	seen := make(map[string]bool, len(providerByID))
	out := make([]mergedInstance, 0, len(local)+len(providerByID))

	for i := range local {
		l := local[i]
		var p *provider.Instance
		if l.ProviderID != "" {
			if pv, ok := providerByID[l.ProviderID]; ok {
				cp := pv
				p = &cp
				seen[l.ProviderID] = true
			}
		}
		out = append(out, buildMergedRow(&l, p))
	}

	if includeNovitaOnly {
		for id, pv := range providerByID {
			if seen[id] {
				continue
			}
			cp := pv
			out = append(out, buildMergedRow(nil, &cp))
		}
	}
	return out
}

func buildMergedRow(l *instance.Instance, p *provider.Instance) mergedInstance {
	row := mergedInstance{Local: l, Provider: p}
	switch {
	case l != nil && p != nil:
		row.Source = sourceMerged
		row.InstanceID = l.ID
		row.ProviderID = l.ProviderID
		row.Name = l.Name
		row.DataConsistency = classifyConsistency(l, p)
	case l != nil:
		row.Source = sourceLocal
		row.InstanceID = l.ID
		row.ProviderID = l.ProviderID
		row.Name = l.Name
		row.DataConsistency = consistencyConsistent
	default:
		row.Source = sourceNovita
		row.ProviderID = p.ID
		row.Name = p.Name
		row.DataConsistency = consistencyConsistent
	}
	return row
}

// classifyConsistency compares local and provider truth for one merged
// record: conflicted when both sides report incompatible
// terminal states, otherwise newer-side-wins by the maximum of status
// change time / last-synced time.
func classifyConsistency(l *instance.Instance, p *provider.Instance) dataConsistency {
	localTerminal := l.Status.Terminal() || l.Status == instance.StatusReady
	providerTerminal := p.Status == "exited" || p.Status == "failed"

	if localTerminal && providerTerminal && l.Status == instance.StatusReady && p.Status == "exited" {
		return consistencyConflicted
	}

	localChanged := l.LastSyncedAt
	if providerChangeTime(p).After(localChanged) {
		return consistencyNovitaNewer
	}
	if localChanged.After(providerChangeTime(p)) {
		return consistencyLocalNewer
	}
	return consistencyConsistent
}

func providerChangeTime(p *provider.Instance) time.Time {
	if p.StatusChangeAt != nil {
		return *p.StatusChangeAt
	}
	return p.CreatedAt
}

// reconcileLocalState writes the provider's view back to the local store
// for every merged record; novita-only rows have no local record and are
// skipped. Only an exited provider status is copied into the local status
// (it overrides any local state, ready included); for any other provider
// status a ready instance is left untouched and every other instance only
// has its LastSyncedAt refreshed.
func (s *Server) reconcileLocalState(ctx context.Context, merged []mergedInstance) {
	log := logger.FromContext(ctx)
	for _, row := range merged {
		if row.Local == nil || row.Provider == nil {
			continue
		}
		id := row.Local.ID
		providerStatus := row.Provider.Status

		_, err := s.deps.Store.Update(id, func(i *instance.Instance) error {
			if i.Status == instance.StatusReady && providerStatus != "exited" {
				return nil // never regress ready to a non-terminal provider view
			}
			if providerStatus == "exited" {
				i.Status = instance.StatusExited
			}
			i.LastSyncedAt = time.Now()
			return nil
		})
		if err != nil {
			log.WarnContext(ctx, "failed to reconcile local state from comprehensive listing", "instanceId", id, "error", err)
		}
	}
}
