package feedback

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dreamware/fleetcmd/internal/cluster"
	"github.com/dreamware/fleetcmd/internal/codec"
	"github.com/dreamware/fleetcmd/internal/logging"
)

// maxLine bounds one feedback record. Command output can be large.
const maxLine = 16 << 20

// ReadLog parses a feedback log written in c's format. Blank lines are
// ignored; lines that fail to decode are logged and skipped.
func ReadLog(r io.Reader, c codec.Codec, log *logging.Logger) ([]cluster.CommandResult, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	var out []cluster.CommandResult
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		res, err := c.DecodeResult([]byte(line))
		if err != nil {
			log.Warn("skipping unreadable feedback record", "line", lineNo, "error", err)
			continue
		}
		out = append(out, res)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read feedback log: %w", err)
	}
	return out, nil
}

// ReadFile is ReadLog over the named file.
func ReadFile(path string, c codec.Codec, log *logging.Logger) ([]cluster.CommandResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()
	return ReadLog(f, c, log)
}
