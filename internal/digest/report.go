package digest

import (
	"fmt"
	"strings"
	"time"
)

const closingNote = "Note: This is an automated digest. If multiple members are expiring soon, consider scheduling a renewal class."

// Subject builds the email subject line for a digest run.
func Subject(windowDays int, periodKey string) string {
	return fmt.Sprintf("PTCA Cert Digest — next %d days — %s", windowDays, periodKey)
}

// RenderReport produces the plain-text digest body. The output is
// byte-for-byte reproducible for identical inputs: fixed bucket order,
// fixed date formats, no locale-dependent formatting. Empty buckets are
// rendered with "(none)" rather than omitted, including the third
// bucket when the window makes its interval inverted.
func RenderReport(buckets []Bucket, windowDays, totalCount int, generatedAtUtc time.Time) string {
	lines := []string{
		fmt.Sprintf("PTCA Certification Digest (next %d days)", windowDays),
		fmt.Sprintf("Generated (UTC): %s", generatedAtUtc.UTC().Format("2006-01-02 15:04")),
		"",
		fmt.Sprintf("Total expiring: %d", totalCount),
		"",
	}

	if totalCount == 0 {
		lines = append(lines, "No certifications expiring in this window.")
		return strings.Join(lines, "\n")
	}

	for _, b := range buckets {
		lines = append(lines, fmt.Sprintf("=== %s ===", b.Title))

		if len(b.Items) == 0 {
			lines = append(lines, "  (none)")
		} else {
			for _, it := range b.Items {
				suffix := ""
				if strings.TrimSpace(it.Notes) != "" {
					suffix = fmt.Sprintf(" — %s", it.Notes)
				}
				lines = append(lines, fmt.Sprintf("  %3dd | %s | %s | %s%s",
					it.DaysLeft,
					it.ExpiresOn.Format("2006-01-02"),
					it.FullName,
					it.Certification,
					suffix,
				))
			}
		}

		lines = append(lines, "")
	}

	lines = append(lines, closingNote)

	return strings.Join(lines, "\n")
}
