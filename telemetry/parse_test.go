package telemetry

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		ts       string
		readings []Reading
		errCount int
	}{
		{
			name:     "timestamp prefix",
			line:     "12345,P1:10,P2:20.5",
			ts:       "12345",
			readings: []Reading{{"P1", 10}, {"P2", 20.5}},
		},
		{
			name:     "no timestamp when first token is a pair",
			line:     "P8:750,P7:100",
			readings: []Reading{{"P8", 750}, {"P7", 100}},
		},
		{
			name:     "whitespace separated after timestamp",
			line:     "42,P1:1 P2:2\tP3:-3",
			ts:       "42",
			readings: []Reading{{"P1", 1}, {"P2", 2}, {"P3", -3}},
		},
		{
			name:     "ids are upper-cased",
			line:     "p5:12,p3:4",
			readings: []Reading{{"P5", 12}, {"P3", 4}},
		},
		{
			name:     "malformed tokens dropped",
			line:     "7,P1:abc,garbage,:5,P2:3",
			ts:       "7",
			readings: []Reading{{"P2", 3}},
			errCount: 3,
		},
		{
			name:     "single pair without comma",
			line:     "P2:1400",
			readings: []Reading{{"P2", 1400}},
		},
		{
			name:     "timestamp only",
			line:     "99,",
			ts:       "99",
			readings: []Reading{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			frame, errs := Parse(tt.line)
			require.Equal(tt.ts, frame.MCUTimestamp)
			require.Equal(tt.readings, frame.Readings)
			require.Len(errs, tt.errCount)
			for _, err := range errs {
				require.ErrorIs(err, ErrMalformedToken)
			}
		})
	}
}

func TestParse_ErrorDetail(t *testing.T) {
	require := require.New(t)

	_, errs := Parse("P1:x")
	require.Len(errs, 1)

	var perr *ProtocolError
	require.ErrorAs(errs[0], &perr)
	require.Equal("P1:x", perr.Token)
	require.ErrorIs(errs[0], strconv.ErrSyntax)
	require.Contains(errs[0].Error(), `"P1:x"`)
}
