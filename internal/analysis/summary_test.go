package analysis

import (
	"testing"
	"time"

	"github.com/mfield/pranight/internal/models"
)

func TestSummarize(t *testing.T) {
	start := time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC)
	events := []models.AnomalyEvent{
		{
			Time:            time.Date(2025, 3, 9, 23, 29, 59, 0, time.UTC),
			Value:           5.0,
			VerticalPower:   8.0,
			HorizontalPower: 1.6,
		},
		{
			Time:            time.Date(2025, 3, 9, 23, 45, 0, 0, time.UTC),
			Value:           3.2,
			VerticalPower:   6.0,
			HorizontalPower: 1.9,
		},
		{
			Time:            time.Date(2025, 3, 10, 1, 29, 59, 0, time.UTC),
			Value:           4.1,
			VerticalPower:   7.0,
			HorizontalPower: 1.7,
		},
	}

	sum := summarize(events, 1.44, start, end, time.UTC)
	if sum.TimeRange != "2025-03-09 20:00 - 2025-03-10 04:00" {
		t.Errorf("TimeRange = %q", sum.TimeRange)
	}
	if sum.Values != "5.00, 3.20, 4.10" {
		t.Errorf("Values = %q", sum.Values)
	}
	if sum.VerticalValues != "8.00, 6.00, 7.00" {
		t.Errorf("VerticalValues = %q", sum.VerticalValues)
	}
	if sum.HorizontalValues != "1.60, 1.90, 1.70" {
		t.Errorf("HorizontalValues = %q", sum.HorizontalValues)
	}
	if sum.TimeBlocks != "23:00-00:00, 01:00-02:00" {
		t.Errorf("TimeBlocks = %q, want deduplicated local hours", sum.TimeBlocks)
	}
	if sum.Threshold != 1.44 {
		t.Errorf("Threshold = %v", sum.Threshold)
	}
	if sum.PlotRef != "" {
		t.Errorf("PlotRef = %q, want empty without a renderer", sum.PlotRef)
	}
}

// Half-hour-offset zones must floor on the local wall clock, not on
// UTC-aligned hour boundaries.
func TestHourBlocksHalfHourZone(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	events := []models.AnomalyEvent{
		// 02:29:59 IST
		{Time: time.Date(2025, 3, 9, 20, 59, 59, 0, time.UTC)},
		// 03:00:01 IST
		{Time: time.Date(2025, 3, 9, 21, 30, 1, 0, time.UTC)},
	}
	blocks := hourBlocks(events, kolkata)
	if len(blocks) != 2 || blocks[0] != "02:00-03:00" || blocks[1] != "03:00-04:00" {
		t.Errorf("blocks = %v, want [02:00-03:00 03:00-04:00]", blocks)
	}
}
