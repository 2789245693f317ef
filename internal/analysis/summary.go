package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/mfield/pranight/internal/models"
)

// summarize folds a night's anomaly events into the one-row master
// log entry. Times render in the station's local zone; the plot
// reference stays empty until a renderer fills it in.
func summarize(events []models.AnomalyEvent, thr float64, windowStart, windowEnd time.Time, loc *time.Location) *models.AnomalySummary {
	pVals := make([]string, len(events))
	zVals := make([]string, len(events))
	gVals := make([]string, len(events))
	for i, ev := range events {
		pVals[i] = fmt.Sprintf("%.2f", ev.Value)
		zVals[i] = fmt.Sprintf("%.2f", ev.VerticalPower)
		gVals[i] = fmt.Sprintf("%.2f", ev.HorizontalPower)
	}

	return &models.AnomalySummary{
		TimeRange: fmt.Sprintf("%s - %s",
			windowStart.In(loc).Format("2006-01-02 15:04"),
			windowEnd.In(loc).Format("2006-01-02 15:04")),
		Threshold:        thr,
		Values:           strings.Join(pVals, ", "),
		VerticalValues:   strings.Join(zVals, ", "),
		HorizontalValues: strings.Join(gVals, ", "),
		TimeBlocks:       strings.Join(hourBlocks(events, loc), ", "),
		Remarks:          "Anomaly detected",
	}
}

// hourBlocks lists the distinct local clock hours the events fall in,
// formatted "HH:MM-HH:MM" in first-occurrence order. Flooring works on
// the wall clock so half-hour-offset zones keep whole local hours.
func hourBlocks(events []models.AnomalyEvent, loc *time.Location) []string {
	var blocks []string
	seen := make(map[string]bool)
	for _, ev := range events {
		lt := ev.Time.In(loc)
		start := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, loc)
		block := start.Format("15:04") + "-" + start.Add(time.Hour).Format("15:04")
		if !seen[block] {
			seen[block] = true
			blocks = append(blocks, block)
		}
	}
	return blocks
}
