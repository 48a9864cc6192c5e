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

package instance

import (
	"time"

	"github.com/caas-team/instanceplane/pkg/provider"
)

// Source tags where a merged record's data originated.
type Source string

const (
	SourceLocal   Source = "local"
	SourceNovita  Source = "novita"
	SourceMerged  Source = "merged"
)

// Consistency tags how local and provider data agree.
type Consistency string

const (
	ConsistencyConsistent  Consistency = "consistent"
	ConsistencyLocalNewer  Consistency = "local-newer"
	ConsistencyNovitaNewer Consistency = "novita-newer"
	ConsistencyConflicted  Consistency = "conflicted"
)

// MergedRecord is one fused row of the comprehensive listing.
type MergedRecord struct {
	Instance        Instance        `json:"instance"`
	ProviderInstance *provider.Instance `json:"providerInstance,omitempty"`
	Source          Source          `json:"source"`
	DataConsistency Consistency     `json:"dataConsistency"`
}

// PerformanceBlock reports per-phase timing and cache effectiveness,
// returned alongside the merged listing.
type PerformanceBlock struct {
	LocalFetch     time.Duration `json:"localFetchMs"`
	ProviderFetch  time.Duration `json:"providerFetchMs"`
	MergeDuration  time.Duration `json:"mergeMs"`
	CacheHits      uint64        `json:"cacheHits"`
	CacheMisses    uint64        `json:"cacheMisses"`
}

// CacheHitRatio returns hits/(hits+misses), or 0 when there have been no
// lookups yet.
func (p PerformanceBlock) CacheHitRatio() float64 {
	total := p.CacheHits + p.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(p.CacheHits) / float64(total)
}

// Merge fuses a read-only snapshot of local instances with a provider
// snapshot, classifying each merged record's source and data consistency.
// If syncLocalState is true, reconciled status is written back to the
// store, honoring the monotonicity rule: ready never regresses, but a
// provider-reported exited overrides any non-terminal local status.
func Merge(store *Store, local []Instance, providerInstances []provider.Instance, syncLocalState bool) []MergedRecord {
	byProviderID := make(map[string]*provider.Instance, len(providerInstances))
	for i := range providerInstances {
		byProviderID[providerInstances[i].ID] = &providerInstances[i]
	}

	seenProviderIDs := make(map[string]bool, len(local))
	records := make([]MergedRecord, 0, len(local)+len(providerInstances))

	for _, inst := range local {
		pInst, hasProvider := byProviderID[inst.ProviderID]
		var rec MergedRecord
		rec.Instance = inst

		if !hasProvider || inst.ProviderID == "" {
			rec.Source = SourceLocal
			rec.DataConsistency = ConsistencyConsistent
			records = append(records, rec)
			continue
		}

		seenProviderIDs[inst.ProviderID] = true
		rec.Source = SourceMerged
		rec.ProviderInstance = pInst
		rec.DataConsistency = classify(inst, *pInst)

		if syncLocalState {
			reconcileStatus(store, inst.ID, *pInst)
		}
		records = append(records, rec)
	}

	for _, pInst := range providerInstances {
		if seenProviderIDs[pInst.ID] {
			continue
		}
		records = append(records, MergedRecord{
			Source:           SourceNovita,
			ProviderInstance: &pInst,
			DataConsistency:  ConsistencyConsistent,
		})
	}

	return records
}

// classify compares a local record and its matching provider record.
func classify(local Instance, p provider.Instance) Consistency {
	localReady := local.Status == StatusReady
	providerExited := p.Status == "exited"
	if localReady && providerExited {
		return ConsistencyConflicted
	}

	localChanged := latestLocalChange(local)
	if p.StatusChangeAt != nil && !p.StatusChangeAt.IsZero() {
		if p.StatusChangeAt.After(localChanged) {
			return ConsistencyNovitaNewer
		}
		if localChanged.After(*p.StatusChangeAt) {
			return ConsistencyLocalNewer
		}
	}
	return ConsistencyConsistent
}

func latestLocalChange(inst Instance) time.Time {
	latest := inst.Timestamps.Created
	for _, t := range []*time.Time{
		inst.Timestamps.Started, inst.Timestamps.Ready, inst.Timestamps.Failed,
		inst.Timestamps.Stopping, inst.Timestamps.Stopped, inst.Timestamps.Terminated,
	} {
		if t != nil && t.After(latest) {
			latest = *t
		}
	}
	if inst.LastSyncedAt.After(latest) {
		latest = inst.LastSyncedAt
	}
	return latest
}

// reconcileStatus writes the provider's view back to the store, subject to
// the monotonicity rule: never regress ready, but an exited provider
// status always overrides a non-terminal local status.
func reconcileStatus(store *Store, id string, p provider.Instance) {
	providerStatus := Status(p.Status)

	_, _ = store.Update(id, func(inst *Instance) error {
		inst.LastSyncedAt = time.Now()

		if providerStatus == StatusExited {
			if !inst.Status.Terminal() {
				inst.Status = StatusExited
			}
			return nil
		}
		if inst.Status == StatusReady {
			return nil // never regress ready
		}
		if providerStatus != "" && providerStatus != inst.Status {
			inst.Status = providerStatus
		}
		return nil
	})
}
