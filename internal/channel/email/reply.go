package email

import (
	"regexp"
	"strings"
)

var approvalIDPattern = regexp.MustCompile(`appr_[A-Za-z0-9]+`)

// ExtractApprovalID returns the first approval identifier found in the text,
// or "". Callers check the subject before the body.
func ExtractApprovalID(text string) string {
	return approvalIDPattern.FindString(text)
}

// TruncateReply keeps only the text a human actually typed, cutting at the
// first line that looks like quoted history, a signature, or pasted headers.
// Everything from the first matching line onward is discarded and the kept
// prefix is trimmed.
func TruncateReply(body string) string {
	if body == "" {
		return ""
	}
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		if isQuoteMarker(strings.TrimSpace(strings.TrimSuffix(line, "\r"))) {
			break
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isQuoteMarker(stripped string) bool {
	switch {
	case strings.HasPrefix(stripped, ">"):
		return true
	case strings.HasPrefix(stripped, "-----Original Message-----"):
		return true
	case stripped == "--" || stripped == "__":
		return true
	case strings.HasPrefix(stripped, "From:") && strings.Contains(stripped, "@"):
		return true
	case strings.HasPrefix(stripped, "Subject:"),
		strings.HasPrefix(stripped, "To:"),
		strings.HasPrefix(stripped, "Cc:"):
		return true
	}
	lower := strings.ToLower(stripped)
	if strings.HasPrefix(lower, "on ") && strings.HasSuffix(lower, "wrote:") {
		return true
	}
	return strings.HasPrefix(lower, "sent from my")
}
