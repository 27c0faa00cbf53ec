package telemetry

import (
	"strconv"
	"strings"
	"unicode"
)

// Reading is one sensor value.
type Reading struct {
	ID    string
	Value float64
}

// Frame is the parsed content of one telemetry line.
type Frame struct {
	// MCUTimestamp is the raw timestamp token, empty when the line has none.
	MCUTimestamp string
	Readings     []Reading
}

// Parse parses a telemetry line. The returned errors are *ProtocolError values, one per dropped token.
func Parse(line string) (Frame, []error) {
	var frame Frame

	line = strings.TrimSpace(line)
	if head, rest, found := strings.Cut(line, ","); found && !strings.Contains(head, ":") {
		frame.MCUTimestamp = strings.TrimSpace(head)
		line = rest
	}

	var errs []error
	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	frame.Readings = make([]Reading, 0, len(tokens))
	for _, tok := range tokens {
		r, err := parseToken(tok)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		frame.Readings = append(frame.Readings, r)
	}

	return frame, errs
}

func parseToken(tok string) (Reading, error) {
	id, raw, found := strings.Cut(tok, ":")
	id = strings.ToUpper(strings.TrimSpace(id))
	if !found || id == "" {
		return Reading{}, &ProtocolError{Token: tok, Err: ErrMalformedToken}
	}

	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return Reading{}, &ProtocolError{Token: tok, Err: err}
	}

	return Reading{ID: id, Value: val}, nil
}
