// Package events defines the domain events emitted by mutating service
// operations and the dispatcher that fans them out to sinks.
//
// Instead of implicit persistence hooks, every service method that mutates
// state returns the events describing what happened. The HTTP handlers hand
// those events to a Dispatcher, which forwards them to the audit recorder
// and the notification sender. Dispatch is synchronous and best-effort:
// a failing sink is logged and never fails the triggering operation.
package events
