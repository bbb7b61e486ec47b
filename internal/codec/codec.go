package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/fleetcmd/internal/cluster"
)

var (
	// ErrMalformed is returned for payloads that cannot be parsed.
	ErrMalformed = errors.New("codec: malformed payload")
	// ErrMissingField is returned for structured payloads lacking a required field.
	ErrMissingField = errors.New("codec: missing required field")
	// ErrUnknownFormat is returned by New for an unrecognized format name.
	ErrUnknownFormat = errors.New("codec: unknown format")
)

// Format names a wire encoding.
type Format string

const (
	FormatDelimited  Format = "delimited"
	FormatStructured Format = "structured"
)

// Codec encodes and decodes bus payloads. Implementations are stateless and
// safe for concurrent use.
type Codec interface {
	Format() Format
	EncodeCommand(cmd cluster.Command) ([]byte, error)
	DecodeCommand(payload []byte) (cluster.Command, error)
	EncodeResult(res cluster.CommandResult) ([]byte, error)
	DecodeResult(payload []byte) (cluster.CommandResult, error)
}

// New returns the codec for format.
func New(format Format) (Codec, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatDelimited:
		return Delimited{}, nil
	case FormatStructured:
		return Structured{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// FormatTimestamp renders t as unix seconds with microsecond precision.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	us := t.UnixMicro()
	sec, frac := us/1e6, us%1e6
	if frac < 0 {
		sec--
		frac += 1e6
	}
	return fmt.Sprintf("%d.%06d", sec, frac)
}

// ParseTimestamp parses a timestamp written by FormatTimestamp or by any
// producer emitting fractional unix seconds. Digits past the sixth are
// truncated.
func ParseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	whole, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
	}
	var us int64
	if frac != "" {
		if len(frac) > 6 {
			frac = frac[:6]
		}
		frac += strings.Repeat("0", 6-len(frac))
		us, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || us < 0 {
			return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
		}
	}
	return time.UnixMicro(sec*1e6 + us), nil
}
