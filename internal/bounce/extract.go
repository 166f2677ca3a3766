package bounce

import (
	"regexp"
	"strings"
)

// Subjects that mark a delivery status notification, matched
// case-insensitively as substrings.
var bounceSubjects = []string{
	"delivery failed",
	"delivery status notification",
	"undeliverable",
	"returned mail",
	"delivery failure",
	"mail delivery failed",
	"failure notice",
	"message not delivered",
}

// IsBounceSubject reports whether a subject line announces a bounce.
func IsBounceSubject(subject string) bool {
	s := strings.ToLower(subject)
	for _, marker := range bounceSubjects {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

const addrPattern = `([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`

// Extraction runs in priority order: direct phrases first, then the To:
// line of a forwarded block, then generic fallbacks. The first match
// wins.
var directPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)your message wasn't delivered to\s*<?` + addrPattern + `>?`),
	regexp.MustCompile(`(?i)your message couldn't be delivered to\s*<?` + addrPattern + `>?`),
	regexp.MustCompile(`(?i)address not found[^@]{0,200}?<?` + addrPattern + `>?`),
	regexp.MustCompile(`(?i)delivery to the following recipient failed permanently:\s*<?` + addrPattern + `>?`),
}

var forwardedMarkers = []string{
	"---------- Forwarded message ----------",
	"---------- Forwarded message ---------",
	"Begin forwarded message",
}

var forwardedTo = regexp.MustCompile(`(?im)^To:\s*.*?<?` + addrPattern + `>?`)

var fallbackPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)recipient:\s*<?` + addrPattern + `>?`),
	regexp.MustCompile(`(?i)unknown address:\s*<?` + addrPattern + `>?`),
	regexp.MustCompile(`(?i)invalid recipient:\s*<?` + addrPattern + `>?`),
	regexp.MustCompile(`(?i)final-recipient:.*?;\s*<?` + addrPattern + `>?`),
}

// ExtractFailedRecipient pulls the bounced address out of a DSN body.
// Empty string when nothing matches.
func ExtractFailedRecipient(body string) string {
	for _, re := range directPhrases {
		if m := re.FindStringSubmatch(body); m != nil {
			return strings.ToLower(m[1])
		}
	}

	for _, marker := range forwardedMarkers {
		idx := strings.Index(body, marker)
		if idx < 0 {
			continue
		}
		if m := forwardedTo.FindStringSubmatch(body[idx:]); m != nil {
			return strings.ToLower(m[1])
		}
	}

	for _, re := range fallbackPhrases {
		if m := re.FindStringSubmatch(body); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}
