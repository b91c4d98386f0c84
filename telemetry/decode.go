package telemetry

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"thrustrig/rig"
)

// Lines from the bench look like:
//
//	lc1(1234)   load cell 1, integer counts, or lc1(n) when not ready
//	lc2(-56)    load cell 2
//	cur(3.45)   current in amps
//	vtg(11.9)   voltage in volts
var (
	cellLine  = regexp.MustCompile(`^(lc1|lc2)\((n|[-+]?\d+)\)$`)
	floatLine = regexp.MustCompile(`^(cur|vtg)\(([-+]?[0-9]*\.?[0-9]+)\)$`)
)

var tagChannels = map[string]rig.Channel{
	"lc1": rig.Cell1,
	"lc2": rig.Cell2,
	"cur": rig.Current,
	"vtg": rig.Voltage,
}

// Sample is one decoded telemetry line.
type Sample struct {
	Channel rig.Channel
	Value   float64
	Valid   bool
}

// Decode parses one line of bench output. ok is false for lines that are not
// telemetry (boot banners, echoes, noise).
func Decode(line string) (s Sample, ok bool) {
	line = strings.TrimSpace(line)
	if m := cellLine.FindStringSubmatch(line); m != nil {
		s.Channel = tagChannels[m[1]]
		if m[2] == "n" {
			return s, true
		}
		v, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return s, true
		}
		s.Value, s.Valid = float64(v), true
		return s, true
	}
	if m := floatLine.FindStringSubmatch(line); m != nil {
		s.Channel = tagChannels[m[1]]
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return s, true
		}
		s.Value, s.Valid = v, true
		return s, true
	}
	return s, false
}

// EncodeThrottle formats a throttle command for the bench.
func EncodeThrottle(percent int) string {
	return fmt.Sprintf("thr(%d)", percent)
}

var throttleLine = regexp.MustCompile(`^thr\((-?\d+)\)$`)

// DecodeThrottle parses a throttle command as written by EncodeThrottle.
func DecodeThrottle(line string) (int, bool) {
	m := throttleLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
