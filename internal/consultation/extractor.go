package consultation

import (
	"encoding/json"
	"strings"
	"time"
)

// PrescriptionSentinel is the literal token the doctor persona emits when it
// is ready to prescribe. The structured record is expected as a brace-
// delimited JSON object somewhere in or after the same reply.
const PrescriptionSentinel = "PRESCRIPTION_READY"

// PrescriptionNotice replaces the sentinel portion of a reply as the
// user-visible acknowledgement that a prescription follows.
const PrescriptionNotice = "Based on our consultation, I've prepared a comprehensive homeopathic prescription for you. Please review it below."

// HasSentinel reports whether reply signals a prescription is ready.
func HasSentinel(reply string) bool {
	return strings.Contains(reply, PrescriptionSentinel)
}

// Preface returns the trimmed human-readable text preceding the sentinel.
func Preface(reply string) string {
	before, _, _ := strings.Cut(reply, PrescriptionSentinel)
	return strings.TrimSpace(before)
}

// ExtractPrescription scans reply text for the first syntactically complete
// JSON object that parses into a usable prescription. Unknown fields are
// ignored and optional fields may be absent, but a record without remedies
// is rejected. Returns nil when no usable record exists; callers fall back
// to showing the raw text.
//
// The scan balances braces with string awareness rather than spanning from
// the first "{" to the last "}", so stray braces in surrounding prose do
// not corrupt extraction.
func ExtractPrescription(reply string, now time.Time) *Prescription {
	for start := 0; start < len(reply); {
		open := strings.IndexByte(reply[start:], '{')
		if open < 0 {
			return nil
		}
		open += start

		span, ok := balancedSpan(reply, open)
		if ok {
			var p Prescription
			if err := json.Unmarshal([]byte(span), &p); err == nil && len(p.Remedies) > 0 {
				if p.Date == "" {
					// The one normalization applied: stamp the extraction
					// date rather than trusting the model to provide one.
					p.Date = now.Format("2006-01-02")
				}
				return &p
			}
		}
		start = open + 1
	}
	return nil
}

// balancedSpan returns the substring from the "{" at open through its
// matching "}", tracking JSON string literals and escapes so braces inside
// strings do not count.
func balancedSpan(s string, open int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[open : i+1], true
			}
		}
	}
	return "", false
}
