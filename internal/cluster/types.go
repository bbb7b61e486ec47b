package cluster

import (
	"strings"
	"time"
)

// TargetAll addresses a command to every registered worker. Matching is
// case-insensitive.
const TargetAll = "all"

// ErrorNone is the error field value reported when a command wrote nothing
// to stderr.
const ErrorNone = "None"

// Status summarizes how a command finished.
type Status string

const (
	// StatusSucceeded means the command ran and exited zero.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the command ran and exited non-zero.
	StatusFailed Status = "failed"
	// StatusError means the command could not be run.
	StatusError Status = "error"
)

// Command is a unit of work addressed to a worker identity or to TargetAll.
type Command struct {
	Target string `json:"client_id"`
	Text   string `json:"command"`
}

// IsBroadcast reports whether the command is addressed to every worker.
func (c Command) IsBroadcast() bool {
	return strings.EqualFold(c.Target, TargetAll)
}

// CommandResult is produced once per executed command and is immutable once
// published.
type CommandResult struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	ClientID  string    `json:"client_id"`
	Command   string    `json:"command"`
	Output    string    `json:"output"`
	// Error is stderr, ErrorNone, or a failure description.
	Error    string `json:"error"`
	Status   Status `json:"status"`
	ExitCode int    `json:"exit_code"`
}

// Duration returns how long the command ran.
func (r CommandResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Registration is the coordinator's record of one worker identity.
type Registration struct {
	FirstSeen    time.Time `json:"first_seen"`
	ID           string    `json:"id"`
	Acknowledged bool      `json:"acknowledged"`
}

// Pipeline is a named ordered sequence of command texts.
type Pipeline struct {
	Name     string   `mapstructure:"name" json:"name"`
	Commands []string `mapstructure:"commands" json:"commands"`
}

// DispatchRequest is the body accepted by the coordinator's /dispatch endpoint.
type DispatchRequest struct {
	Target  string `json:"target"`
	Command string `json:"command"`
}

// DispatchResponse reports how many workers a dispatch was published to.
type DispatchResponse struct {
	SentTo []string `json:"sent_to"`
}

// WorkersResponse is the body served by the coordinator's /workers endpoint.
type WorkersResponse struct {
	Workers []Registration `json:"workers"`
	Ready   bool           `json:"ready"`
}

// ResultsResponse is the body returned by the coordinator's /results endpoint.
type ResultsResponse struct {
	Results []CommandResult `json:"results"`
	Total   int             `json:"total"`
	Failed  int             `json:"failed"`
}
