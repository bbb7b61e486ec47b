// Package worker implements the process that runs on every fleet node.
//
// A Worker composes three pieces around one bus connection:
//
//	┌──────────────────────────────────────────────┐
//	│                  Worker                      │
//	├──────────────────────────────────────────────┤
//	│  Registrar  publishes its id on the          │
//	│             registration topic every         │
//	│             interval until an ack naming     │
//	│             that id arrives                  │
//	│                                              │
//	│  command    decodes each message, keeps only │
//	│  handler    those addressed to this id and   │
//	│             appends them to the Engine queue │
//	│                                              │
//	│  Engine     one goroutine draining the queue │
//	│             in FIFO order, running each      │
//	│             command through a Runner and     │
//	│             publishing a CommandResult       │
//	└──────────────────────────────────────────────┘
//
// Ordering: results leave the Engine in the order commands were admitted,
// and no two commands run at the same time, however fast they arrive.
//
// Failure isolation: a command that cannot be started, times out, or makes
// the Runner panic still yields a CommandResult (status "error") and the
// Engine moves on to the next command.
//
// Shutdown is cooperative. Stop raises a flag and queues a sentinel; the
// Engine finishes the command in flight, if any, runs nothing further and
// exits. In-flight subprocesses are never killed by Stop.
//
// Known limitation: the Registrar never gives up. If no acknowledgment ever
// arrives it keeps re-announcing until the process is stopped; an operator
// has to restart the worker or the coordinator to clear that state.
package worker
