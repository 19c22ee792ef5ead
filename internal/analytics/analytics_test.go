package analytics

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Spatial-NVR/PPEGuard/internal/logstore"
)

func rec(ts, snap, class string, conf float64) logstore.Record {
	return logstore.Record{Timestamp: ts, Snapshot: snap, Class: class, Confidence: conf}
}

func TestAggregate_Empty(t *testing.T) {
	for _, records := range [][]logstore.Record{nil, {}} {
		s := Aggregate(records)
		if diff := cmp.Diff(Empty(), s); diff != "" {
			t.Errorf("Aggregate(empty) mismatch (-want +got):\n%s", diff)
		}
		if s.ViolationRate != 0 || s.ComplianceRate != 0 {
			t.Errorf("Expected zeroed rates, got %v / %v", s.ViolationRate, s.ComplianceRate)
		}
	}
}

func TestAggregate_HelmetAndNoMask(t *testing.T) {
	s := Aggregate([]logstore.Record{
		rec("2024-03-01_10-00-00", "snapshots/frame_2024-03-01_10-00-00.jpg", "helmet", 0.9),
		rec("2024-03-01_10-00-00", "snapshots/frame_2024-03-01_10-00-00.jpg", "no-mask", 0.8),
	})

	want := Summary{
		TotalDetections:   2,
		ClassDistribution: map[string]int{"helmet": 1, "no-mask": 1},
		ViolationCount:    1,
		ComplianceCount:   1,
		ViolationRate:     50,
		ComplianceRate:    50,
		AvgConfidence:     map[string]float64{"helmet": 0.9, "no-mask": 0.8},
		RecentTrend: []TrendPoint{
			{Timestamp: "10:00:00", Detections: 2, Violations: 1},
		},
		PPEStatistics: PPEStatistics{Helmet: 1, Mask: 1, Vest: 0},
	}

	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregate_ViolationPlusComplianceIsTotal(t *testing.T) {
	classes := []string{"helmet", "no helmet", "mask", "NO-Mask", "vest", "no vest", "jacket", "person", "NO-Hardhat"}

	var records []logstore.Record
	for i := 0; i < 37; i++ {
		records = append(records, rec("2024-03-01_10-00-00", fmt.Sprintf("s_%d.jpg", i%5), classes[i%len(classes)], 0.7))
	}

	for n := 1; n <= len(records); n++ {
		s := Aggregate(records[:n])
		if s.ViolationCount+s.ComplianceCount != s.TotalDetections {
			t.Fatalf("n=%d: %d + %d != %d", n, s.ViolationCount, s.ComplianceCount, s.TotalDetections)
		}
		if s.TotalDetections != n {
			t.Fatalf("n=%d: total %d", n, s.TotalDetections)
		}
	}
}

func TestAggregate_Rates(t *testing.T) {
	s := Aggregate([]logstore.Record{
		rec("t", "a.jpg", "no helmet", 0.9),
		rec("t", "a.jpg", "helmet", 0.9),
		rec("t", "a.jpg", "helmet", 0.9),
	})

	if s.ViolationRate != 33.33 {
		t.Errorf("Expected violation rate 33.33, got %v", s.ViolationRate)
	}
	if s.ComplianceRate != 66.67 {
		t.Errorf("Expected compliance rate 66.67, got %v", s.ComplianceRate)
	}
}

func TestAggregate_AvgConfidence(t *testing.T) {
	s := Aggregate([]logstore.Record{
		rec("t", "a.jpg", "vest", 0.5),
		rec("t", "b.jpg", "vest", 0.75),
		rec("t", "c.jpg", "mask", 0.6),
	})

	if got := s.AvgConfidence["vest"]; got != 0.625 {
		t.Errorf("Expected vest avg 0.625, got %v", got)
	}
	if got := s.AvgConfidence["mask"]; got != 0.6 {
		t.Errorf("Expected mask avg 0.6, got %v", got)
	}
}

func TestAggregate_PPEStatistics(t *testing.T) {
	s := Aggregate([]logstore.Record{
		rec("t", "a.jpg", "Helmet", 0.9),
		rec("t", "a.jpg", "no helmet", 0.9),
		rec("t", "a.jpg", "face mask", 0.9),
		rec("t", "a.jpg", "Safety Vest", 0.9),
		rec("t", "a.jpg", "jacket", 0.9),
		rec("t", "a.jpg", "vestibule", 0.9),
		rec("t", "a.jpg", "person", 0.9),
	})

	want := PPEStatistics{Helmet: 2, Mask: 1, Vest: 3}
	if s.PPEStatistics != want {
		t.Errorf("Expected %+v, got %+v", want, s.PPEStatistics)
	}
}

func TestRecentTrend_OrderAndLimit(t *testing.T) {
	var records []logstore.Record
	for i := 0; i < 12; i++ {
		ts := fmt.Sprintf("2024-03-01_10-%02d-00", i)
		snap := fmt.Sprintf("snapshots/frame_%s.jpg", ts)
		records = append(records, rec(ts, snap, "helmet", 0.9))
		if i%2 == 0 {
			records = append(records, rec(ts, snap, "no mask", 0.8))
		}
	}

	s := Aggregate(records)
	if len(s.RecentTrend) != RecentSnapshots {
		t.Fatalf("Expected %d trend points, got %d", RecentSnapshots, len(s.RecentTrend))
	}

	if s.RecentTrend[0].Timestamp != "10:11:00" {
		t.Errorf("Expected newest snapshot first, got %s", s.RecentTrend[0].Timestamp)
	}
	if s.RecentTrend[9].Timestamp != "10:02:00" {
		t.Errorf("Expected 10th newest snapshot last, got %s", s.RecentTrend[9].Timestamp)
	}

	// 10:10 had a violation, 10:11 did not
	if s.RecentTrend[0].Violations != 0 || s.RecentTrend[0].Detections != 1 {
		t.Errorf("Unexpected first point: %+v", s.RecentTrend[0])
	}
	if s.RecentTrend[1].Violations != 1 || s.RecentTrend[1].Detections != 2 {
		t.Errorf("Unexpected second point: %+v", s.RecentTrend[1])
	}
}

func TestRecentTrend_UnparsableTimestamps(t *testing.T) {
	s := Aggregate([]logstore.Record{
		rec("garbage", "snapshots/frame_morning.jpg", "helmet", 0.9),
		rec("", "nounderscore.jpg", "no vest", 0.9),
		rec("2024-03-01_09-00-00", "snapshots/frame_2024-03-01_09-00-00.jpg", "vest", 0.9),
	})

	want := []TrendPoint{
		{Timestamp: "09:00:00", Detections: 1, Violations: 0},
		{Timestamp: "morning", Detections: 1, Violations: 0},
		{Timestamp: "N/A", Detections: 1, Violations: 1},
	}
	if diff := cmp.Diff(want, s.RecentTrend); diff != "" {
		t.Errorf("RecentTrend mismatch (-want +got):\n%s", diff)
	}
}

func TestRecentTrend_SkipsRowsWithoutSnapshot(t *testing.T) {
	s := Aggregate([]logstore.Record{
		rec("2024-03-01_08-00-00", "snapshots/frame_2024-03-01_08-00-00.jpg", "helmet", 0.9),
		rec("2024-03-01_09-00-00", "", "no mask", 0.9),
		rec("2024-03-01_10-00-00", "", "helmet", 0.9),
		rec("2024-03-01_11-00-00", "", "no vest", 0.9),
	})

	want := []TrendPoint{{Timestamp: "08:00:00", Detections: 1, Violations: 0}}
	if diff := cmp.Diff(want, s.RecentTrend); diff != "" {
		t.Errorf("RecentTrend mismatch (-want +got):\n%s", diff)
	}
	if s.TotalDetections != 4 || s.ViolationCount != 2 {
		t.Errorf("Expected monitor rows in totals, got %d detections / %d violations", s.TotalDetections, s.ViolationCount)
	}
}
