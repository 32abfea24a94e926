// Package audit records who changed whose access, and when.
//
// # Events
//
// Every role grant and revocation, every guard denial or redirect, every password
// operation and session event is an Event. Actor and target are principal IDs;
// request metadata (IP, user agent, request ID) is copied from the HTTP request.
//
//	event := audit.NewEvent(ctx, audit.EventTypeRoleGrant, audit.EventStatusSuccess)
//	event.TargetID = principalID
//	event.ResourceType = audit.ResourceTypeRoleAssignment
//	event.ResourceID = assignment.ID
//	audit.Record(ctx, logger, event)
//
// Record never fails the caller; sink errors go to the application log.
//
// # Sinks
//
//   - DBLogger: the audit_events table (PostgreSQL or SQLite), also the query side
//   - FileLogger: JSON lines with size-based rotation
//   - MultiLogger: fan-out to several sinks
//   - AsyncLogger: hands writes to an async.WorkerPool
//
// # Retention
//
// DBStore.Cleanup deletes events past the retention age. With archiving enabled
// the events are first uploaded by S3Archiver as one JSON-lines object per UTC day:
//
//	<prefix>/2026/03/14/audit-<first id>-<last id>.ndjson
package audit
