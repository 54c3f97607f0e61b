// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/novatechflow/tsingest/pkg/backend"
)

// registerHealthMetrics exports the backend health state as one gauge per
// state, set to 1 for the current one.
func registerHealthMetrics(reg prometheus.Registerer, monitor *backend.HealthMonitor) {
	for _, state := range []backend.HealthState{backend.StateHealthy, backend.StateDegraded, backend.StateUnavailable} {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   serviceName,
			Name:        "backend_health_state",
			Help:        "Current view of downstream sink health.",
			ConstLabels: prometheus.Labels{"state": string(state)},
		}, func() float64 {
			if monitor.State() == state {
				return 1
			}
			return 0
		}))
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: serviceName,
		Name:      "backend_error_rate",
		Help:      "Share of failed sink operations in the health window.",
	}, func() float64 {
		return monitor.Snapshot().ErrorRate
	}))
}
