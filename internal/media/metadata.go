package media

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
)

// MetadataParseError reports a frame-rate string that violates the
// accepted grammar. Only ParseFrameRateStrict returns it; ParseFrameRate
// degrades hostile input to 0 instead of failing.
type MetadataParseError struct {
	Raw string
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("media: frame rate %q does not match N/M or a decimal number", e.Raw)
}

var (
	rationalRe = regexp.MustCompile(`^\d+/\d+$`)
	decimalRe  = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// ParseFrameRate converts a probe frame-rate field such as "30/1",
// "24000/1001" or "29.97" to frames per second. Input is matched against
// a strict grammar and is never interpreted beyond that match, no matter
// what it contains. Anything outside the grammar, including a zero
// denominator, yields 0.
func ParseFrameRate(raw string) float64 {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "" || raw == "0/0":
		return 0
	case rationalRe.MatchString(raw):
		parts := strings.SplitN(raw, "/", 2)
		num, errN := strconv.ParseFloat(parts[0], 64)
		den, errD := strconv.ParseFloat(parts[1], 64)
		if errN != nil || errD != nil || den == 0 {
			return 0
		}
		return num / den
	case decimalRe.MatchString(raw):
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0
		}
		return v
	default:
		log.Printf("[media] rejecting frame rate field %q", raw)
		return 0
	}
}

// ParseFrameRateStrict is ParseFrameRate for trusted call sites where a
// grammar violation means a bug rather than hostile data.
func ParseFrameRateStrict(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" && trimmed != "0/0" && !rationalRe.MatchString(trimmed) && !decimalRe.MatchString(trimmed) {
		return 0, &MetadataParseError{Raw: raw}
	}
	return ParseFrameRate(raw), nil
}

// selectFrameRate prefers the average rate over the raw rate, matching
// how probes report variable-rate streams.
func selectFrameRate(avg, raw string) float64 {
	if v := ParseFrameRate(avg); v > 0 {
		return v
	}
	return ParseFrameRate(raw)
}
