// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package metrics exposes every component's Prometheus instruments
// under a single registry, so cmd/shinkai-node only has to mount one
// /metrics handler regardless of which components are wired in.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "shinkai"

// Registry is the process-wide collector every promauto.With(...) call
// in this package registers against.
var Registry = prometheus.NewRegistry()
