package parser

import "strings"

// PreviewLength caps the stored preview of an inbound message
const PreviewLength = 200

var (
	wroteMarkers = []string{" wrote:", "написал", "пишет"}
	// Lowercase date stamps Russian Gmail puts above the quoted original.
	// Matched case-sensitively: "Пт, ..." or "Ср, ..." can open a real reply.
	dayStamps = []string{"чт,", "сб,", "вс,"}
)

// CleanReply drops quoted history and signatures from a reply body.
// Everything from the first boilerplate line on is cut. If nothing is left
// the trimmed original body is returned.
func CleanReply(body string) string {
	if body == "" {
		return body
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if isBoilerplate(line) {
			break
		}
		kept = append(kept, line)
	}

	cleaned := strings.TrimSpace(strings.Join(kept, "\n"))
	if cleaned == "" {
		return strings.TrimSpace(body)
	}
	return cleaned
}

func isBoilerplate(line string) bool {
	stripped := strings.TrimSpace(line)
	lower := strings.ToLower(stripped)

	switch {
	case strings.HasPrefix(stripped, ">"):
		return true
	case strings.HasPrefix(lower, "on ") && strings.Contains(lower, "wrote:"):
		return true
	case strings.HasPrefix(stripped, "--"):
		return true
	}

	if strings.HasSuffix(lower, ":") {
		for _, m := range wroteMarkers {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}

	for _, d := range dayStamps {
		if strings.HasPrefix(stripped, d) {
			return true
		}
	}
	return false
}

// Preview returns the first line of a body capped to max runes
func Preview(body string, max int) string {
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	first, _, _ := strings.Cut(body, "\n")
	first = strings.TrimRight(first, "\r")

	runes := []rune(first)
	if len(runes) > max {
		return string(runes[:max])
	}
	return first
}
