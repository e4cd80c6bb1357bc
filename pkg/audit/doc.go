// Package audit records every domain mutation into an append-only log.
//
// The recorder is an events.Sink: services emit domain events, the
// dispatcher hands them here, and a failure to write is logged and swallowed
// so auditing never breaks the operation being audited. There are no update
// or delete statements against the audit table.
package audit
