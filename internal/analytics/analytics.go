// Package analytics aggregates the detection log into dashboard statistics.
// The summary is recomputed from every record on each call.
package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Spatial-NVR/PPEGuard/internal/detection"
	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
)

// RecentSnapshots bounds the length of Summary.RecentTrend
const RecentSnapshots = 10

// TrendPoint summarizes one snapshot
type TrendPoint struct {
	Timestamp  string `json:"timestamp"`
	Detections int    `json:"detections"`
	Violations int    `json:"violations"`
}

// PPEStatistics counts records per equipment type
type PPEStatistics struct {
	Helmet int `json:"helmet"`
	Mask   int `json:"mask"`
	Vest   int `json:"vest"`
}

// Summary is the analytics payload
type Summary struct {
	TotalDetections   int                `json:"total_detections"`
	ClassDistribution map[string]int     `json:"class_distribution"`
	ViolationCount    int                `json:"violation_count"`
	ComplianceCount   int                `json:"compliance_count"`
	ViolationRate     float64            `json:"violation_rate"`
	ComplianceRate    float64            `json:"compliance_rate"`
	AvgConfidence     map[string]float64 `json:"avg_confidence"`
	RecentTrend       []TrendPoint       `json:"recent_trend"`
	PPEStatistics     PPEStatistics      `json:"ppe_statistics"`
}

var (
	helmetKeywords = []string{"helmet"}
	maskKeywords   = []string{"mask"}
	vestKeywords   = []string{"vest", "jacket"}
)

// Empty returns the zeroed summary reported when there is no data
func Empty() Summary {
	return Summary{
		ClassDistribution: map[string]int{},
		AvgConfidence:     map[string]float64{},
		RecentTrend:       []TrendPoint{},
	}
}

// Aggregate computes the summary for records in append order
func Aggregate(records []logstore.Record) Summary {
	s := Empty()
	if len(records) == 0 {
		return s
	}

	confidenceSum := make(map[string]float64)
	for _, r := range records {
		s.ClassDistribution[r.Class]++
		confidenceSum[r.Class] += r.Confidence

		if detection.IsViolation(r.Class) {
			s.ViolationCount++
		}

		lower := strings.ToLower(r.Class)
		if detection.ContainsAny(lower, helmetKeywords) {
			s.PPEStatistics.Helmet++
		}
		if detection.ContainsAny(lower, maskKeywords) {
			s.PPEStatistics.Mask++
		}
		if detection.ContainsAny(lower, vestKeywords) {
			s.PPEStatistics.Vest++
		}
	}

	s.TotalDetections = len(records)
	s.ComplianceCount = s.TotalDetections - s.ViolationCount
	s.ViolationRate = percent(s.ViolationCount, s.TotalDetections)
	s.ComplianceRate = percent(s.ComplianceCount, s.TotalDetections)

	for class, sum := range confidenceSum {
		s.AvgConfidence[class] = sum / float64(s.ClassDistribution[class])
	}

	s.RecentTrend = recentTrend(records, RecentSnapshots)
	return s
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*100*100) / 100
}

type parsedRecord struct {
	logstore.Record
	at time.Time
	ok bool
}

// recentTrend orders records by parsed timestamp, newest first with
// unparsable timestamps last, and groups the first limit distinct snapshots.
// Rows without a snapshot (headless monitor runs) have no frame to group by
// and are left out.
func recentTrend(records []logstore.Record, limit int) []TrendPoint {
	parsed := make([]parsedRecord, 0, len(records))
	for _, r := range records {
		if r.Snapshot == "" {
			continue
		}
		at, err := time.Parse(logstore.TimestampLayout, r.Timestamp)
		parsed = append(parsed, parsedRecord{Record: r, at: at, ok: err == nil})
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		a, b := parsed[i], parsed[j]
		if a.ok != b.ok {
			return a.ok
		}
		return a.at.After(b.at)
	})

	var order []string
	points := make(map[string]*TrendPoint)
	for _, r := range parsed {
		p, seen := points[r.Snapshot]
		if !seen {
			if len(order) == limit {
				continue
			}
			p = &TrendPoint{Timestamp: trendLabel(r)}
			points[r.Snapshot] = p
			order = append(order, r.Snapshot)
		}
		p.Detections++
		if detection.IsViolation(r.Class) {
			p.Violations++
		}
	}

	trend := make([]TrendPoint, 0, len(order))
	for _, snapshot := range order {
		trend = append(trend, *points[snapshot])
	}
	return trend
}

// trendLabel is the clock time of a snapshot, or a label recovered from its
// file name when the timestamp cannot be parsed
func trendLabel(r parsedRecord) string {
	if r.ok {
		return r.at.Format("15:04:05")
	}
	if i := strings.LastIndex(r.Snapshot, "_"); i >= 0 {
		return strings.ReplaceAll(r.Snapshot[i+1:], ".jpg", "")
	}
	return "N/A"
}
