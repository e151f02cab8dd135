// Copyright 2024 The gVisor Authors.
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

package gimcoms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Command results, the "result" label of commandsTotal.
const (
	resultOK        = "ok"
	resultUsage     = "usage"
	resultTransport = "transport"
)

var (
	probesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gim",
		Subsystem: "coms",
		Name:      "backend_probes_total",
		Help:      "Host inspections performed to select a backend.",
	})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gim",
		Subsystem: "coms",
		Name:      "commands_total",
		Help:      "Commands dispatched, by backend and result.",
	}, []string{"backend", "result"})

	// transportCalls counts every operation that touches a backend
	// endpoint: socket connects, device opens and ioctls.
	transportCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gim",
		Subsystem: "coms",
		Name:      "transport_calls_total",
		Help:      "Backend endpoint operations, by backend and operation.",
	}, []string{"backend", "op"})
)

func countCommand(k Kind, err error) {
	result := resultOK
	switch {
	case err == nil:
	case IsTransport(err):
		result = resultTransport
	default:
		result = resultUsage
	}
	commandsTotal.WithLabelValues(k.String(), result).Inc()
}
