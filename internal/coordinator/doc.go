// Package coordinator implements the control side of a fleetcmd run:
// discovering workers over the bus, deciding when discovery is complete,
// and dispatching commands to the workers it found.
//
// # Overview
//
// Workers announce their identity on the registration topic until they
// see it echoed back on the ack topic. The coordinator records each
// identity once, acknowledges it once, and waits until no new worker has
// joined for the registration timeout before it starts dispatching.
//
//	┌──────────────────────────────────────────────┐
//	│                 COORDINATOR                  │
//	├──────────────────────────────────────────────┤
//	│  Registry                                    │
//	│   - identity set, first-seen order           │
//	│   - one ack per identity                     │
//	│   - quiescence timer (WAITING → READY)       │
//	│                                              │
//	│  Dispatcher                                  │
//	│   - "all" → one publish per known worker     │
//	│   - pipeline mode, realtime mode             │
//	│   - command-loader topic                     │
//	│                                              │
//	│  feedback.Collector on the response topic    │
//	│  HTTP status surface (optional)              │
//	└──────────────────────────────────────────────┘
//
// # Discovery
//
// The quiescence window restarts on every newly seen identity, so a fleet
// that starts up over a minute is discovered as a whole as long as no gap
// between two joins exceeds the window. A coordinator that never hears
// from a worker waits indefinitely.
//
// # Dispatch
//
// Broadcasts are expanded against a snapshot of the registry taken at
// dispatch time. A worker that registers later does not receive commands
// from an earlier broadcast. Within one worker, pipeline commands are
// published in pipeline order; there is no ordering across workers.
//
// # Concurrency
//
// Bus callbacks only record and hand off. Responses go straight to the
// collector; registrations and loader requests are queued for a goroutine
// the coordinator owns, which sends acks and dispatches from there. An MQTT
// client with ordered delivery cannot finish a QoS 1 publish while one of
// its callbacks is still running, so nothing that publishes runs on one.
// Run drives the foreground flow. The registry's single mutex is the only
// state shared between the background goroutine, Run and the status
// surface.
//
// # Usage
//
//	co := coordinator.New(cfg, mqttBus, wireCodec, collector, log)
//	if err := co.Start(ctx); err != nil {
//	    return err
//	}
//	defer co.Close()
//	return co.Run(ctx, os.Stdin, os.Stdout)
package coordinator
