// Package container parses container runtime log lines: framing removal,
// timestamp extraction and severity classification. All functions are pure
// and safe for concurrent use.
package container

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"logship/internal/database/models"
)

// ansiPattern matches ANSI escape sequences (colors, cursor movement).
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripControlSequences removes ANSI escape sequences from a line.
func StripControlSequences(line string) string {
	if !strings.ContainsRune(line, '\x1b') {
		return line
	}
	return ansiPattern.ReplaceAllString(line, "")
}

// SplitContainerFraming splits a container runtime log line of the form
//
//	<rfc3339-nano-timestamp> <stdout|stderr> [F|P ]<message>
//
// into the timestamp substring and the message with framing removed.
// Lines without a stdout/stderr stream token are passed through unmodified
// (timestamp empty, message = whole line). A line that carries the stream
// token but is missing the rest of the framing is a structural error.
func SplitContainerFraming(line string) (timestamp, message string, err error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || (fields[1] != "stdout" && fields[1] != "stderr") {
		return "", line, nil
	}
	if len(fields) < 3 {
		return "", "", fmt.Errorf("malformed container framing: %q", line)
	}

	msg := fields[2]
	// Partial/full line tag emitted by containerd-style runtimes.
	if strings.HasPrefix(msg, "F ") || strings.HasPrefix(msg, "P ") {
		msg = msg[2:]
	}
	return fields[0], msg, nil
}

// containerTimestampLayout is the fixed format used after fraction
// truncation (seven fractional digits, trailing zone).
const containerTimestampLayout = "2006-01-02T15:04:05.0000000Z07:00"

var (
	fractionPattern = regexp.MustCompile(`\.(\d+)`)

	// Fallback timestamp shapes scanned anywhere in a line, in order.
	bracketedPattern = regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:\.\d+)?)\]`)
	isoPattern       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	slashPattern     = regexp.MustCompile(`\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}`)

	fallbackLayouts = []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999",
		"2006/01/02 15:04:05",
	}

	timestampJSONFields = []string{"ts", "timestamp", "time", "@timestamp", "datetime", "date"}
)

// ParseTimestamp resolves the effective timestamp of a log line. raw is the
// framing timestamp substring (may be empty), line is the cleaned message
// used for fallback scanning. Resolution order: fixed-format parse of raw,
// timestamp patterns anywhere in the line, JSON timestamp fields, and
// finally the current time.
func ParseTimestamp(raw, line string) time.Time {
	if raw != "" {
		if ts, ok := parseFixed(raw); ok {
			return ts
		}
	}
	if ts, ok := ScanTimestamp(line); ok {
		return ts
	}
	return time.Now()
}

// parseFixed truncates the fractional seconds to seven digits and parses
// the fixed container layout, falling back to RFC 3339 for lines without
// a fraction.
func parseFixed(raw string) (time.Time, bool) {
	s := fractionPattern.ReplaceAllStringFunc(raw, func(m string) string {
		digits := m[1:]
		if len(digits) > 7 {
			digits = digits[:7]
		}
		for len(digits) < 7 {
			digits += "0"
		}
		return "." + digits
	})

	if ts, err := time.Parse(containerTimestampLayout, s); err == nil {
		return ts, true
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true
	}
	return time.Time{}, false
}

// ScanTimestamp searches a line for a bracketed, ISO or slash-formatted
// timestamp, then for JSON object timestamp fields.
func ScanTimestamp(line string) (time.Time, bool) {
	if m := bracketedPattern.FindStringSubmatch(line); m != nil {
		if ts, ok := parseAnyLayout(m[1]); ok {
			return ts, true
		}
	}
	if m := isoPattern.FindString(line); m != "" {
		if ts, ok := parseAnyLayout(m); ok {
			return ts, true
		}
	}
	if m := slashPattern.FindString(line); m != "" {
		if ts, ok := parseAnyLayout(m); ok {
			return ts, true
		}
	}
	if ts, ok := jsonTimestamp(line); ok {
		return ts, true
	}
	return time.Time{}, false
}

func parseAnyLayout(s string) (time.Time, bool) {
	for _, layout := range fallbackLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// jsonTimestamp reads a timestamp field from a line that is a JSON object.
func jsonTimestamp(line string) (time.Time, bool) {
	obj, ok := asJSONObject(line)
	if !ok {
		return time.Time{}, false
	}
	for _, field := range timestampJSONFields {
		v, present := obj[field]
		if !present {
			continue
		}
		s, isString := v.(string)
		if !isString {
			continue
		}
		if ts, ok := parseAnyLayout(s); ok {
			return ts, true
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

var (
	levelJSONFields = []string{"level", "severity", "log_level", "logLevel", "@level"}

	// Ordered detection patterns over the five full level words only.
	// Aliases like "info" or "err" are recognized in JSON level fields,
	// not in free text. Information is deliberately checked before
	// Error: a line mentioning both words classifies as Information.
	// Kept for behavioral parity with the existing agents.
	levelPatterns = []struct {
		re    *regexp.Regexp
		level models.LogLevel
	}{
		{regexp.MustCompile(`(?i)\binformation\b`), models.LevelInformation},
		{regexp.MustCompile(`(?i)\berror\b`), models.LevelError},
		{regexp.MustCompile(`(?i)\bwarning\b`), models.LevelWarning},
		{regexp.MustCompile(`(?i)\bdebug\b`), models.LevelDebug},
		{regexp.MustCompile(`(?i)\btrace\b`), models.LevelTrace},
	}
)

// ClassifyLevel derives a severity for a message. JSON level fields take
// precedence; otherwise the ordered regex patterns decide, first match
// wins. Messages with no recognizable level classify as Any.
func ClassifyLevel(message string) models.LogLevel {
	if obj, ok := asJSONObject(message); ok {
		for _, field := range levelJSONFields {
			v, present := obj[field]
			if !present {
				continue
			}
			s, isString := v.(string)
			if !isString {
				continue
			}
			if lvl, known := models.ParseLevel(s); known {
				return lvl
			}
		}
	}

	for _, p := range levelPatterns {
		if p.re.MatchString(message) {
			return p.level
		}
	}
	return models.LevelAny
}

// asJSONObject unmarshals a line into a map when it looks like a JSON
// object. Cheap prefix check avoids unmarshal attempts on plain text.
func asJSONObject(line string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	return obj, true
}
