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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/caas-team/instanceplane/internal/logger"
	"github.com/caas-team/instanceplane/pkg/errs"
	"github.com/caas-team/instanceplane/pkg/instance"
	"github.com/caas-team/instanceplane/pkg/provider"
	"github.com/caas-team/instanceplane/pkg/queue"
	"github.com/go-chi/chi/v5"
)

// createInstanceRequest is the POST /api/instances body. Omitted fields
// fall back to defaults.Config.
type createInstanceRequest struct {
	Name            string              `json:"name"`
	ProductID       string              `json:"productId"`
	TemplateID      string              `json:"templateId"`
	GpuCount        int                 `json:"gpuCount"`
	RootfsSizeGB    int                 `json:"rootfsSizeGb"`
	Region          string              `json:"region"`
	Image           string              `json:"image,omitempty"`
	ImageAuthCredID string              `json:"imageAuthCredId,omitempty"`
	Ports           []provider.PortSpec `json:"ports,omitempty"`
	Env             []instance.EnvVar   `json:"env,omitempty"`
	WebhookURL      string              `json:"webhookUrl,omitempty"`
}

func (r createInstanceRequest) validate() error {
	fields := make(map[string]string)
	if !instance.NamePattern.MatchString(r.Name) {
		fields["name"] = "must match [A-Za-z0-9_-]{1,100}"
	}
	if r.TemplateID == "" {
		fields["templateId"] = "is required"
	}
	if r.GpuCount < 1 || r.GpuCount > 8 {
		fields["gpuCount"] = "must be between 1 and 8"
	}
	if r.RootfsSizeGB < 20 || r.RootfsSizeGB > 1000 {
		fields["rootfsSizeGb"] = "must be between 20 and 1000"
	}
	if len(fields) > 0 {
		return errs.ValidationFields("invalid create instance request", fields)
	}
	return nil
}

type instanceResponse struct {
	*instance.Instance
}

// handleCreateInstance reserves the name, builds the configuration
// snapshot (applying configured defaults to omitted fields), begins a
// startup operation, and enqueues the create-instance job that does the
// actual provider work.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errs.Validation("malformed JSON body"))
		return
	}
	if req.GpuCount == 0 {
		req.GpuCount = s.deps.Config.Defaults.GpuCount
	}
	if req.RootfsSizeGB == 0 {
		req.RootfsSizeGB = s.deps.Config.Defaults.RootfsSizeGB
	}
	if req.Region == "" {
		req.Region = s.deps.Config.Defaults.Region
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}

	cfg := instance.Config{
		ProductID:       req.ProductID,
		TemplateID:      provider.TemplateID(req.TemplateID),
		GpuCount:        req.GpuCount,
		RootfsSizeGB:    req.RootfsSizeGB,
		Region:          req.Region,
		Image:           req.Image,
		ImageAuthCredID: req.ImageAuthCredID,
		Ports:           req.Ports,
		Env:             req.Env,
	}

	inst, err := s.deps.Store.Create(req.Name, cfg, req.WebhookURL)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}

	if _, err := s.deps.Startup.Begin(inst.ID, s.deps.Config.Startup.Timeout); err != nil {
		writeError(w, r, err)
		return
	}

	job := queue.Job{
		ID:          inst.ID,
		Type:        queue.TypeCreateInstance,
		Priority:    queue.PriorityHigh,
		Payload:     map[string]any{"instanceId": inst.ID},
		MaxAttempts: s.deps.Config.Jobs.MaxAttempts,
		CreatedAt:   time.Now(),
	}
	if err := s.deps.Queue.Enqueue(r.Context(), &job); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, instanceResponse{inst})
}

// handleGetInstance resolves GET /api/instances/:id.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse{inst})
}

// handleListInstances resolves GET /api/instances. source selects the
// local store (default) or the raw provider listing; the merged view with
// includeNovitaOnly/syncLocalState lives at /api/instances/comprehensive.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "novita" || source == "provider" {
		s.listProviderInstances(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": s.deps.Store.List(instance.Filter{})})
}

func (s *Server) listProviderInstances(w http.ResponseWriter, r *http.Request) {
	page, err := s.deps.Provider.ListInstances(r.Context(), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": page.Instances, "nextToken": page.NextToken})
}

// handleStartInstanceByID resolves POST /api/instances/:id/start.
func (s *Server) handleStartInstanceByID(w http.ResponseWriter, r *http.Request) {
	s.startInstance(w, r, chi.URLParam(r, "id"))
}

// handleStartInstanceByName resolves POST /api/instances/start, resolving
// the instance by its {"name": "..."} body.
func (s *Server) handleStartInstanceByName(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, r, errs.Validation("name is required"))
		return
	}
	inst, err := s.deps.Store.GetByName(body.Name)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	s.startInstance(w, r, inst.ID)
}

// startInstance (re)starts a previously created instance that already has
// a provider ID: it issues the provider start call directly, transitions
// to starting, begins a new startup operation, and hands off to
// monitor-instance for health-checking.
func (s *Server) startInstance(w http.ResponseWriter, r *http.Request, id string) {
	inst, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	if inst.ProviderID == "" {
		writeError(w, r, errs.Validation("instance has never been created on the provider"))
		return
	}

	if _, err := s.deps.Startup.Begin(id, s.deps.Config.Startup.Timeout); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Provider.StartInstance(r.Context(), inst.ProviderID); err != nil {
		writeError(w, r, err)
		return
	}

	now := time.Now()
	if _, err := s.deps.Store.Update(id, func(i *instance.Instance) error {
		i.Status = instance.StatusStarting
		i.Timestamps.Started = &now
		return nil
	}); err != nil {
		writeError(w, r, err)
		return
	}

	monitorJob := queue.Job{
		ID:          id,
		Type:        queue.TypeMonitorInstance,
		Priority:    queue.PriorityHigh,
		Payload:     map[string]any{"instanceId": id},
		MaxAttempts: s.deps.Config.Jobs.MaxAttempts,
		CreatedAt:   time.Now(),
	}
	if err := s.deps.Queue.Enqueue(r.Context(), &monitorJob); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instanceId": id, "status": string(instance.StatusStarting)})
}

// handleStopInstanceByID resolves POST /api/instances/:id/stop.
func (s *Server) handleStopInstanceByID(w http.ResponseWriter, r *http.Request) {
	s.stopInstance(w, r, chi.URLParam(r, "id"))
}

// handleStopInstanceByName resolves POST /api/instances/stop.
func (s *Server) handleStopInstanceByName(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, r, errs.Validation("name is required"))
		return
	}
	inst, err := s.deps.Store.GetByName(body.Name)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	s.stopInstance(w, r, inst.ID)
}

func (s *Server) stopInstance(w http.ResponseWriter, r *http.Request, id string) {
	log := logger.FromContext(r.Context())
	inst, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	if inst.ProviderID != "" {
		if err := s.deps.Provider.StopInstance(r.Context(), inst.ProviderID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	now := time.Now()
	updated, err := s.deps.Store.Update(id, func(i *instance.Instance) error {
		i.Status = instance.StatusStopping
		i.Timestamps.Stopping = &now
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wErr := s.enqueueStatusWebhook(r.Context(), updated); wErr != nil {
		log.WarnContext(r.Context(), "failed to enqueue stop webhook", "instanceId", id, "error", wErr)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instanceId": id, "status": string(instance.StatusStopping)})
}

// handleTouchLastUsed resolves PUT /api/instances/:id/last-used.
func (s *Server) handleTouchLastUsed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		LastUsed *time.Time `json:"lastUsed,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	when := time.Time{}
	if body.LastUsed != nil {
		when = *body.LastUsed
	}
	if err := s.deps.Store.TouchLastUsed(id, when); err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	inst, err := s.deps.Store.Get(id)
	if err != nil {
		writeError(w, r, mapStoreErr(err))
		return
	}
	writeJSON(w, http.StatusOK, instanceResponse{inst})
}

// mapStoreErr translates the instance package's plain sentinel errors into
// the structured *errs.Error envelope every handler returns through.
func mapStoreErr(err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, instance.ErrNotFound):
		return errs.NotFound("instance not found")
	case errors.Is(err, instance.ErrInvalidName):
		return errs.ValidationFields("invalid instance name", map[string]string{"name": "must match [A-Za-z0-9_-]{1,100}"})
	case errors.Is(err, instance.ErrLastUsedRegression):
		return errs.Validation("lastUsed must not move backwards")
	default:
		return errs.Internal(err)
	}
}
