// Package codec converts commands and command results to and from the two
// wire formats fleetcmd speaks on the bus.
//
// Delimited:
//
//	command: <client_id>|<command text>
//	result:  <client_id>|<command>|<start>|<end>|<output>|<error>|<status>|<exit_code>
//
// A delimited command is split on the first '|' only, so command text may
// itself contain '|'. Result fields are backslash-escaped ('\\', '\|', '\n',
// '\r') so a result always occupies exactly one line.
//
// Structured:
//
//	{"client_id": "...", "command": "..."}
//	{"client_id": "...", "command": "...", "start_time": "...", "end_time": "...",
//	 "output": "...", "error": "...", "status": "...", "exit_code": 0}
//
// Structured payloads are JSON text, so output and error fields are UTF-8:
// each byte of invalid UTF-8 in them is replaced by U+FFFD on encode.
// Delimited results carry such bytes through unchanged. Fleets running
// commands with binary output should use the delimited format.
//
// Timestamps are unix seconds with a six digit fraction, written as strings
// in both formats. Decoders accept fractions of any length.
//
// Decoding never panics. Malformed payloads return an error wrapping
// ErrMalformed, and structured commands without client_id or command return
// an error wrapping ErrMissingField. Callers log and drop such messages.
package codec
