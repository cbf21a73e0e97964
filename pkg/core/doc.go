// Package core defines the shared language of the CleanSlate system.
//
// This package contains:
//   - Domain entities (Command, TableState, SnapshotRef, TimelineRecord)
//   - Service interfaces (DatasetEngine, SnapshotStore, AuditSink)
//   - The error taxonomy for timeline operations
//
// The Golden Rule: pkg/core imports only the standard library and small
// leaf dependencies. All other packages depend on core, not the reverse.
package core
