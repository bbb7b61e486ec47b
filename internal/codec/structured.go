package codec

import (
	"encoding/json"
	"fmt"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

// Structured is the JSON object format.
type Structured struct{}

type commandWire struct {
	ClientID *string `json:"client_id"`
	Command  *string `json:"command"`
}

type resultWire struct {
	ClientID  string `json:"client_id"`
	Command   string `json:"command"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Output    string `json:"output"`
	Error     string `json:"error"`
	Status    string `json:"status,omitempty"`
	ExitCode  int    `json:"exit_code"`
}

func (Structured) Format() Format { return FormatStructured }

func (Structured) EncodeCommand(cmd cluster.Command) ([]byte, error) {
	if cmd.Target == "" {
		return nil, fmt.Errorf("%w: client_id", ErrMissingField)
	}
	return json.Marshal(commandWire{ClientID: &cmd.Target, Command: &cmd.Text})
}

func (Structured) DecodeCommand(payload []byte) (cluster.Command, error) {
	var w commandWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return cluster.Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.ClientID == nil || *w.ClientID == "" {
		return cluster.Command{}, fmt.Errorf("%w: client_id", ErrMissingField)
	}
	if w.Command == nil {
		return cluster.Command{}, fmt.Errorf("%w: command", ErrMissingField)
	}
	return cluster.Command{Target: *w.ClientID, Text: *w.Command}, nil
}

func (Structured) EncodeResult(res cluster.CommandResult) ([]byte, error) {
	return json.Marshal(resultWire{
		ClientID:  res.ClientID,
		Command:   res.Command,
		StartTime: FormatTimestamp(res.StartTime),
		EndTime:   FormatTimestamp(res.EndTime),
		Output:    res.Output,
		Error:     res.Error,
		Status:    string(res.Status),
		ExitCode:  res.ExitCode,
	})
}

func (Structured) DecodeResult(payload []byte) (cluster.CommandResult, error) {
	var w resultWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return cluster.CommandResult{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.ClientID == "" {
		return cluster.CommandResult{}, fmt.Errorf("%w: client_id", ErrMissingField)
	}
	start, err := ParseTimestamp(w.StartTime)
	if err != nil {
		return cluster.CommandResult{}, err
	}
	end, err := ParseTimestamp(w.EndTime)
	if err != nil {
		return cluster.CommandResult{}, err
	}
	return cluster.CommandResult{
		ClientID:  w.ClientID,
		Command:   w.Command,
		StartTime: start,
		EndTime:   end,
		Output:    w.Output,
		Error:     w.Error,
		Status:    cluster.Status(w.Status),
		ExitCode:  w.ExitCode,
	}, nil
}
