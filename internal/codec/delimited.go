package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

const (
	separator    = '|'
	resultFields = 8
)

// Delimited is the pipe separated text format.
type Delimited struct{}

func (Delimited) Format() Format { return FormatDelimited }

func (Delimited) EncodeCommand(cmd cluster.Command) ([]byte, error) {
	if cmd.Target == "" {
		return nil, fmt.Errorf("%w: client_id", ErrMissingField)
	}
	if strings.ContainsRune(cmd.Target, separator) {
		return nil, fmt.Errorf("%w: client_id %q contains %q", ErrMalformed, cmd.Target, separator)
	}
	return []byte(cmd.Target + string(separator) + cmd.Text), nil
}

func (Delimited) DecodeCommand(payload []byte) (cluster.Command, error) {
	target, text, found := strings.Cut(string(payload), string(separator))
	if !found {
		return cluster.Command{}, fmt.Errorf("%w: no %q in %q", ErrMalformed, separator, payload)
	}
	if target == "" {
		return cluster.Command{}, fmt.Errorf("%w: client_id", ErrMissingField)
	}
	return cluster.Command{Target: target, Text: text}, nil
}

func (Delimited) EncodeResult(res cluster.CommandResult) ([]byte, error) {
	fields := []string{
		res.ClientID,
		res.Command,
		FormatTimestamp(res.StartTime),
		FormatTimestamp(res.EndTime),
		res.Output,
		res.Error,
		string(res.Status),
		strconv.Itoa(res.ExitCode),
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(separator)
		}
		escapeField(&b, f)
	}
	return []byte(b.String()), nil
}

func (Delimited) DecodeResult(payload []byte) (cluster.CommandResult, error) {
	fields, err := splitEscaped(string(payload))
	if err != nil {
		return cluster.CommandResult{}, err
	}
	if len(fields) != resultFields {
		return cluster.CommandResult{}, fmt.Errorf("%w: want %d fields, got %d", ErrMalformed, resultFields, len(fields))
	}
	start, err := ParseTimestamp(fields[2])
	if err != nil {
		return cluster.CommandResult{}, err
	}
	end, err := ParseTimestamp(fields[3])
	if err != nil {
		return cluster.CommandResult{}, err
	}
	exitCode, err := strconv.Atoi(fields[7])
	if err != nil {
		return cluster.CommandResult{}, fmt.Errorf("%w: exit code %q", ErrMalformed, fields[7])
	}
	return cluster.CommandResult{
		ClientID:  fields[0],
		Command:   fields[1],
		StartTime: start,
		EndTime:   end,
		Output:    fields[4],
		Error:     fields[5],
		Status:    cluster.Status(fields[6]),
		ExitCode:  exitCode,
	}, nil
}

func escapeField(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case separator:
			b.WriteString(`\|`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
}

// splitEscaped splits s on unescaped separators and unescapes each field.
func splitEscaped(s string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return nil, fmt.Errorf("%w: trailing escape", ErrMalformed)
			}
			i++
			switch s[i] {
			case '\\':
				cur.WriteByte('\\')
			case separator:
				cur.WriteByte(separator)
			case 'n':
				cur.WriteByte('\n')
			case 'r':
				cur.WriteByte('\r')
			default:
				return nil, fmt.Errorf("%w: unknown escape \\%c", ErrMalformed, s[i])
			}
		case c == separator:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String()), nil
}
