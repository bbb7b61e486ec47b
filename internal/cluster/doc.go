// Package cluster holds the domain types shared by the fleetcmd coordinator,
// its workers, and the external command loader.
//
// # Overview
//
// fleetcmd runs shell commands on a fleet of worker processes. The only
// transport between the participants is a publish/subscribe bus, so every
// value in this package is something that crosses that bus or is derived
// from something that did:
//
//	          registration (id)            command (id|text)
//	 Worker ───────────────────► Coordinator ───────────────────► Worker
//	        ◄───────────────────             ◄───────────────────
//	              ack (id)                   response (CommandResult)
//
// # Core Types
//
// Command: a (target, text) pair addressed to one worker or to TargetAll.
// The coordinator expands TargetAll into one Command per registered worker
// before anything is published, so workers only ever see their own id.
//
// CommandResult: the record a worker produces for every command it runs.
// Error carries stderr, the ErrorNone sentinel when stderr was empty, or a
// failure description when the command could not be run at all.
//
// Registration: the coordinator's record of a worker identity it has seen.
// Registrations are never removed during a run.
//
// Pipeline: a named, ordered list of command texts loaded from configuration.
//
// # HTTP Helpers
//
// GetJSON and PostJSON are small JSON-over-HTTP helpers used by the
// coordinator's command line to talk to its optional status surface. They
// are not part of the bus protocol.
package cluster
