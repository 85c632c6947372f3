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

// Package metrics exposes Prometheus instrumentation for the SAS
// verification core: session lifecycle counters and a creation-to-terminal
// session duration histogram. The core never reads these back; they exist purely for the
// embedding application to scrape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sasverify"

// Registry is the dedicated registry for this package's metrics. Embedding
// applications that run their own default registry can still expose this
// one on a side channel, or merge it with prometheus.WrapRegistererWith.
var Registry = prometheus.NewRegistry()
