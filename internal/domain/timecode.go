package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTimecode parses "m:ss" or plain seconds ("75", "12.5"). An empty
// string is position zero.
func ParseTimecode(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	if m, s, ok := strings.Cut(v, ":"); ok {
		minutes, err := strconv.Atoi(strings.TrimSpace(m))
		if err != nil || minutes < 0 {
			return 0, invalid("ts", "bad minutes in %q", v)
		}
		var seconds float64
		if s = strings.TrimSpace(s); s != "" {
			seconds, err = strconv.ParseFloat(s, 64)
			if err != nil || !finite(seconds) || seconds < 0 || seconds >= 60 {
				return 0, invalid("ts", "bad seconds in %q", v)
			}
		}
		return float64(minutes*60) + seconds, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || !finite(secs) || secs < 0 {
		return 0, invalid("ts", "bad time %q", v)
	}
	return secs, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FormatTimecode renders seconds as "m:ss", truncating fractions.
func FormatTimecode(secs float64) string {
	if secs < 0 || math.IsNaN(secs) {
		secs = 0
	}
	s := int(secs)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// ParseRegion parses a "x,y,w,h" hotspot description.
func ParseRegion(v string) (Region, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return Region{}, invalid("hotspot", "want x,y,w,h, got %q", v)
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Region{}, invalid("hotspot", "bad number %q in %q", strings.TrimSpace(p), v)
		}
		vals[i] = f
	}
	r := Region{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]}
	if err := r.Validate(); err != nil {
		return Region{}, prefixed("hotspot", err)
	}
	return r, nil
}

// ParseRegions parses a ';' separated list of hotspots, skipping blanks.
func ParseRegions(v string) ([]Region, error) {
	var out []Region
	for _, part := range strings.Split(v, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		r, err := ParseRegion(part)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
