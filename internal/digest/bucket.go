package digest

import (
	"fmt"
	"sort"
	"time"

	"github.com/ptca/certtrack/internal/db"
)

// BucketedRecord carries the per-record values the report needs.
type BucketedRecord struct {
	FullName      string
	Certification string
	ExpiresOn     time.Time
	DaysLeft      int
	Notes         string
}

// Bucket is one fixed day-offset range of the report. Min and Max are a
// closed interval on DaysLeft.
type Bucket struct {
	Title string
	Min   int
	Max   int
	Items []BucketedRecord
}

// Buckets returns the fixed bucket layout for a window. The third
// bucket's upper bound follows the configured window; when windowDays
// <= 30 its interval is inverted and the bucket simply stays empty.
func Buckets(windowDays int) []Bucket {
	return []Bucket{
		{Title: "Expiring in 0–14 days", Min: 0, Max: 14},
		{Title: "Expiring in 15–30 days", Min: 15, Max: 30},
		{Title: fmt.Sprintf("Expiring in 31–%d days", windowDays), Min: 31, Max: windowDays},
	}
}

// MidnightUTC truncates an instant to its UTC calendar date.
func MidnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole-day difference between two calendar
// dates, ignoring any time-of-day component.
func DaysBetween(from, to time.Time) int {
	return int(MidnightUTC(to).Sub(MidnightUTC(from)) / (24 * time.Hour))
}

// Bucketize partitions records into the fixed buckets relative to today.
// A record lands in the first bucket whose interval contains its
// DaysLeft. Within a bucket, records are ordered by DaysLeft ascending
// with ties broken by FullName ascending so the rendered report is
// deterministic.
func Bucketize(records []*db.CertificationRecord, today time.Time, windowDays int) []Bucket {
	items := make([]BucketedRecord, 0, len(records))
	for _, rec := range records {
		notes := ""
		if rec.Notes != nil {
			notes = *rec.Notes
		}
		items = append(items, BucketedRecord{
			FullName:      rec.FullName,
			Certification: rec.Certification,
			ExpiresOn:     MidnightUTC(rec.ExpiresOn),
			DaysLeft:      DaysBetween(today, rec.ExpiresOn),
			Notes:         notes,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].DaysLeft != items[j].DaysLeft {
			return items[i].DaysLeft < items[j].DaysLeft
		}
		return items[i].FullName < items[j].FullName
	})

	buckets := Buckets(windowDays)
	for _, it := range items {
		for b := range buckets {
			if it.DaysLeft >= buckets[b].Min && it.DaysLeft <= buckets[b].Max {
				buckets[b].Items = append(buckets[b].Items, it)
				break
			}
		}
	}

	return buckets
}
