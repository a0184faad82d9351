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

// Package store defines the abstract key-value store every component
// persists through. Logical separation between unrelated record kinds
// is a column family, not a separate database or table per caller.
package store

import "errors"

// ColumnFamily names a logical partition of the key space. Names are
// fixed by the deployment format and must not be altered.
type ColumnFamily string

const (
	CFInboxes              ColumnFamily = "inboxes"
	CFPeers                ColumnFamily = "peers"
	CFIdentities           ColumnFamily = "identities"
	CFScheduledMessages    ColumnFamily = "scheduled_messages"
	CFAllMessages          ColumnFamily = "all_messages"
	CFAllMessagesTimeKeyed ColumnFamily = "all_messages_time_keyed"
	CFJobs                 ColumnFamily = "jobs"
	CFResources            ColumnFamily = "resources"
	CFFilesystem           ColumnFamily = "filesystem"
	CFSourceFiles          ColumnFamily = "source_files"
	CFReadAccessLogs       ColumnFamily = "read_access_logs"
	CFWriteAccessLogs      ColumnFamily = "write_access_logs"
	CFRegistrationCodes    ColumnFamily = "registration_codes"
	CFAgents               ColumnFamily = "agents"
	CFJobQueues            ColumnFamily = "job_queues"

	// Owned by offerings; not part of the core's pre-existing column
	// family list but follows the same naming discipline.
	CFInvoices     ColumnFamily = "invoices"
	CFInvoiceTrace ColumnFamily = "invoice_trace"
)

// AllColumnFamilies lists every family a fresh store must provision.
var AllColumnFamilies = []ColumnFamily{
	CFInboxes, CFPeers, CFIdentities, CFScheduledMessages, CFAllMessages,
	CFAllMessagesTimeKeyed, CFJobs, CFResources, CFFilesystem, CFSourceFiles,
	CFReadAccessLogs, CFWriteAccessLogs, CFRegistrationCodes, CFAgents,
	CFJobQueues, CFInvoices, CFInvoiceTrace,
}

// ErrNotFound is returned when a key is absent from a column family.
var ErrNotFound = errors.New("store: key not found")

// KV is a single key/value pair returned from a Scan.
type KV struct {
	Key   string
	Value []byte
}
