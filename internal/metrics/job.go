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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsCreated tracks jobs created via job.Manager.CreateJob.
	JobsCreated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total number of jobs created",
		},
	)

	// JobMessagesProcessed tracks job_message calls by outcome.
	JobMessagesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "messages_processed_total",
			Help:      "Total number of job_message invocations by outcome",
		},
		[]string{"outcome"}, // success, inference_failed
	)

	// JobMessageDuration tracks job_message latency, the dominant cost
	// being the inference call itself.
	JobMessageDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "message_duration_seconds",
			Help:      "job_message duration in seconds, end to end",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	// JobQueueDepth tracks how many entries are buffered in a Queue
	// waiting for a worker.
	JobQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "queue_depth",
			Help:      "Number of queued job_message calls awaiting a worker",
		},
	)

	// JobRetrievalResults tracks how many VectorFS results a job's
	// scoped retrieval returned before truncation to retrievalK.
	JobRetrievalResults = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "retrieval_results",
			Help:      "Number of scoped VectorFS results merged before truncation",
			Buckets:   prometheus.LinearBuckets(0, 4, 10),
		},
	)
)
