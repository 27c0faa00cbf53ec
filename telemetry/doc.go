// Package telemetry parses MCU telemetry lines and keeps the latest reading of every sensor.
//
// A telemetry line is an optional MCU timestamp followed by SENSOR:value tokens separated by
// commas and/or whitespace:
//
//	12345,P1:512.5,P2:1300 P8:0
//	P8:750,P7:100
//
// The text before the first comma is the timestamp only when it contains no colon.
// Sensor ids are upper-cased. A malformed token is reported and dropped; the rest of
// the line is still used.
package telemetry
