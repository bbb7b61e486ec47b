package config

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// ErrInvalid is matched by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// ValidationError represents a single validation failure.
type ValidationError struct {
	Value   any
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

func (e ValidationError) Unwrap() error { return ErrInvalid }

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func (e ValidationErrors) Unwrap() error { return ErrInvalid }

// ValidWireFormats lists the accepted wire.format values.
func ValidWireFormats() []string {
	return []string{"delimited", "structured"}
}

// ValidLogLevels lists the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate returns every problem found in c.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Broker.Address == "" {
		add("broker.address", c.Broker.Address, "must not be empty")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		add("broker.port", c.Broker.Port, "must be between 1 and 65535")
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		add("broker.qos", c.Broker.QoS, "must be 0, 1 or 2")
	}

	topics := map[string]string{
		"topics.registration": c.Topics.Registration,
		"topics.ack":          c.Topics.Ack,
		"topics.command":      c.Topics.Command,
		"topics.response":     c.Topics.Response,
	}
	for _, field := range []string{"topics.registration", "topics.ack", "topics.command", "topics.response"} {
		if topics[field] == "" {
			add(field, topics[field], "must not be empty")
		}
	}
	if c.Coordinator.AcceptLoader && c.Topics.CommandLoader == "" {
		add("topics.command_loader", c.Topics.CommandLoader, "required when coordinator.accept_loader is set")
	}

	if !slices.Contains(ValidWireFormats(), strings.ToLower(c.Wire.Format)) {
		add("wire.format", c.Wire.Format, "must be one of "+strings.Join(ValidWireFormats(), ", "))
	}
	if level := strings.ToLower(c.Logging.Level); level != "" && !slices.Contains(ValidLogLevels(), level) {
		add("logging.level", c.Logging.Level, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}

	if c.Coordinator.RegistrationTimeout < 0 {
		add("coordinator.registration_timeout", c.Coordinator.RegistrationTimeout, "must not be negative")
	}
	if c.Coordinator.PollInterval <= 0 {
		add("coordinator.poll_interval", c.Coordinator.PollInterval, "must be positive")
	}
	if c.Coordinator.CommandDelay < 0 {
		add("coordinator.command_delay", c.Coordinator.CommandDelay, "must not be negative")
	}
	if c.Coordinator.HistorySize < 0 {
		add("coordinator.history_size", c.Coordinator.HistorySize, "must not be negative")
	}
	if c.Feedback.Persist && c.Feedback.File == "" {
		add("feedback.file", c.Feedback.File, "required when feedback.persist is set")
	}
	for i, p := range c.Pipelines {
		if p.Name == "" {
			add(fmt.Sprintf("pipelines[%d].name", i), p.Name, "must not be empty")
		}
	}

	if c.Worker.ID == "" {
		add("worker.id", c.Worker.ID, "must not be empty")
	}
	if c.Worker.RegistrationInterval <= 0 {
		add("worker.registration_interval", c.Worker.RegistrationInterval, "must be positive")
	}
	if c.Worker.PollTimeout <= 0 {
		add("worker.poll_timeout", c.Worker.PollTimeout, "must be positive")
	}
	if c.Worker.CommandTimeout < 0 {
		add("worker.command_timeout", c.Worker.CommandTimeout, "must not be negative")
	}
	return errs
}
