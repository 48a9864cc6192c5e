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

// Package provider wraps every outbound call this control plane makes to
// the external GPU compute provider: request spacing, circuit breaking,
// retry, and the typed operations themselves.
package provider

import (
	"encoding/json"
	"fmt"
	"time"
)

// TemplateID canonicalizes the provider's string-or-integer template ID
// representation to a string everywhere in the
// control plane.
type TemplateID string

func (t *TemplateID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = TemplateID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("templateId is neither a string nor a number: %w", err)
	}
	*t = TemplateID(n.String())
	return nil
}

func (t TemplateID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(t))
}

// Product is a provider-side GPU product offering.
type Product struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Region        string  `json:"region"`
	BillingMethod string  `json:"billingMethod"`
	PricePerHour  float64 `json:"pricePerHour"`
	Available     bool    `json:"available"`
}

// ProductFilter filters the product list request.
type ProductFilter struct {
	Name          string
	Region        string
	BillingMethod string
}

// Template describes an instance image template.
type Template struct {
	ID    TemplateID `json:"Id"`
	Image string     `json:"image"`
	Ports []PortSpec `json:"-"`
	Env   []EnvVar   `json:"-"`
}

// wirePortGroup is how the provider groups ports by type in its wire
// format; flattened to []PortSpec at the boundary.
type wirePortGroup struct {
	Type  string `json:"type"`
	Ports []int  `json:"ports"`
}

// EnvVar is an environment variable. The provider field is authoritatively
// "key"; the internal representation matches.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// PortSpec is a flattened {port, type} pair, after un-grouping the
// provider's wire representation.
type PortSpec struct {
	Port int    `json:"port"`
	Type string `json:"type"`
}

// templateWire is the raw wire shape of a template response.
type templateWire struct {
	ID    TemplateID      `json:"Id"`
	Image string          `json:"image"`
	Ports []wirePortGroup `json:"ports"`
	Env   []EnvVar        `json:"env"`
}

func flattenPorts(groups []wirePortGroup) []PortSpec {
	var out []PortSpec
	for _, g := range groups {
		for _, p := range g.Ports {
			out = append(out, PortSpec{Port: p, Type: g.Type})
		}
	}
	return out
}

// RegistryAuth is a stored image-pull credential.
type RegistryAuth struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Credential formats the registry auth as "user:pass".
func (r RegistryAuth) Credential() string {
	return r.Username + ":" + r.Password
}

// CreateInstanceRequest is the payload sent to the provider to create an
// instance.
type CreateInstanceRequest struct {
	Name         string     `json:"name"`
	ProductID    string     `json:"productId"`
	TemplateID   TemplateID `json:"templateId"`
	GpuCount     int        `json:"gpuNum"`
	RootfsSizeGB int        `json:"rootfsSize"`
	Image        string     `json:"image"`
	ImageAuth    string     `json:"imageAuth,omitempty"`
	Ports        []PortSpec `json:"-"`
	Env          []EnvVar   `json:"env"`
}

// Instance is the provider's view of an instance.
type Instance struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Region         string     `json:"region"`
	PublicIP       string     `json:"publicIp,omitempty"`
	SpotReclaimAt  string     `json:"spotReclaimTime"`
	SpotStatus     string     `json:"spotStatus"`
	CreatedAt      time.Time  `json:"createdAt"`
	StatusChangeAt *time.Time `json:"statusChangedAt,omitempty"`
}

// IsSpotReclaimed reports whether the provider has reclaimed this instance
// as a preemptible/spot instance.
func (i Instance) IsSpotReclaimed() bool {
	return i.Status == "exited" && i.SpotReclaimAt != "" && i.SpotReclaimAt != "0" && i.SpotStatus != ""
}

// InstancePage is one page of a paged instance listing.
type InstancePage struct {
	Instances []Instance `json:"instances"`
	NextToken string     `json:"nextToken,omitempty"`
}

// ProviderJob is a provider-side background job (distinct from this
// control plane's own durable job queue).
type ProviderJob struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}
