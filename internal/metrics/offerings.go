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
	// InvoicesByState tracks state transitions the invoice state
	// machine makes, keyed by the state entered.
	InvoicesByState = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offerings",
			Name:      "invoice_state_total",
			Help:      "Total number of invoice state transitions, by state entered",
		},
		[]string{"state"}, // requested, quoted, paid, processing, completed, failed, network_error
	)

	// InvoiceExpirations tracks invoices that transitioned to Failed
	// because their expiration_time elapsed before settlement.
	InvoiceExpirations = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offerings",
			Name:      "invoice_expirations_total",
			Help:      "Total number of invoices that expired before being paid",
		},
	)

	// OfferingBackoffRetries tracks retries of the bounded-exponential
	// backoff used by the invoice-expiration sweep.
	OfferingBackoffRetries = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "offerings",
			Name:      "backoff_retries_total",
			Help:      "Total number of background retry attempts taken after a failure",
		},
	)

	// InvoiceProcessingDuration tracks the time from Paid to a terminal
	// state (Completed or Failed).
	InvoiceProcessingDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "offerings",
			Name:      "processing_duration_seconds",
			Help:      "Seconds from PaidInvoice receipt to a terminal invoice state",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)
)
