package link

import (
	"fmt"
	"strings"
)

const (
	// CmdStart is sent once when the link is established.
	CmdStart = "START"
	// CmdNoop is the heartbeat token, sent by both sides.
	CmdNoop = "NOOP"
	// CmdValveSet prefixes a valve command: VALVE_SET:<name>:<0|1>.
	CmdValveSet = "VALVE_SET"
)

var (
	startFrame = []byte(CmdStart + "\n")
	noopFrame  = []byte(CmdNoop + "\n")
)

// FormatValveSet encodes a valve command frame including the trailing newline.
func FormatValveSet(name string, open bool) []byte {
	state := '0'
	if open {
		state = '1'
	}

	return []byte(fmt.Sprintf("%s:%s:%c\n", CmdValveSet, name, state))
}

// ParseValveSet decodes a valve command line, with or without the trailing newline.
func ParseValveSet(line string) (name string, open bool, err error) {
	line = strings.TrimSpace(line)
	rest, ok := strings.CutPrefix(line, CmdValveSet+":")
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrMalformedCommand, line)
	}

	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 {
		return "", false, fmt.Errorf("%w: %q", ErrMalformedCommand, line)
	}

	name = rest[:idx]
	switch rest[idx+1:] {
	case "1":
		return name, true, nil
	case "0":
		return name, false, nil
	default:
		return "", false, fmt.Errorf("%w: bad state in %q", ErrMalformedCommand, line)
	}
}
