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
	"sync"
	"testing"
	"time"

	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateRejectsDuplicateName(t *testing.T) {
	s := NewStore(8)
	_, err := s.Create("alpha", Config{Region: "us-west-1"}, "")
	require.NoError(t, err)

	_, err = s.Create("alpha", Config{Region: "us-west-1"}, "")
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindNameConflict, kind)
}

func TestStore_CreateConcurrentDuplicateNameOnlyOneWins(t *testing.T) {
	s := NewStore(8)
	const n = 20
	var wg sync.WaitGroup
	successes := make([]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Create("beta", Config{}, "")
			successes[i] = err == nil
		}(i)
	}
	wg.Wait()

	count := 0
	for _, ok := range successes {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestStore_InvalidNameRejected(t *testing.T) {
	s := NewStore(1)
	_, err := s.Create("not a valid name!", Config{}, "")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestStore_TouchLastUsedRejectsRegression(t *testing.T) {
	s := NewStore(1)
	inst, err := s.Create("gamma", Config{}, "")
	require.NoError(t, err)

	future := inst.Timestamps.LastUsed.Add(time.Hour)
	require.NoError(t, s.TouchLastUsed(inst.ID, future))

	err = s.TouchLastUsed(inst.ID, inst.Timestamps.LastUsed)
	require.ErrorIs(t, err, ErrLastUsedRegression)
}

func TestStore_UpdatePublishesChangeOnStatusTransition(t *testing.T) {
	s := NewStore(1)
	inst, err := s.Create("delta", Config{}, "")
	require.NoError(t, err)

	_, err = s.Update(inst.ID, func(i *Instance) error {
		i.Status = StatusRunning
		return nil
	})
	require.NoError(t, err)

	select {
	case ev := <-s.Changes():
		require.Equal(t, inst.ID, ev.ID)
		require.Equal(t, StatusCreating, ev.Before)
		require.Equal(t, StatusRunning, ev.After)
	default:
		t.Fatal("expected a change event")
	}
}

func TestStore_NameReusableAfterInstanceReachesTerminalStatus(t *testing.T) {
	s := NewStore(1)
	first, err := s.Create("zeta", Config{}, "")
	require.NoError(t, err)

	_, err = s.Create("zeta", Config{}, "")
	require.Error(t, err)

	_, err = s.Update(first.ID, func(i *Instance) error {
		i.Status = StatusFailed
		return nil
	})
	require.NoError(t, err)

	second, err := s.Create("zeta", Config{}, "")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	_, err = s.GetByName("zeta")
	require.NoError(t, err)
	got, err := s.Get(second.ID)
	require.NoError(t, err)
	require.Equal(t, "zeta", got.Name)
}

func TestStore_GetByProviderIDAfterAssignment(t *testing.T) {
	s := NewStore(1)
	inst, err := s.Create("epsilon", Config{}, "")
	require.NoError(t, err)

	_, err = s.Update(inst.ID, func(i *Instance) error {
		i.ProviderID = "prov-123"
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetByProviderID("prov-123")
	require.NoError(t, err)
	require.Equal(t, inst.ID, got.ID)
}
