package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/mfield/pranight/internal/models"
)

func TestAnalysisNight(t *testing.T) {
	sgt, err := time.LoadLocation("Asia/Singapore")
	if err != nil {
		t.Fatalf("load Asia/Singapore: %v", err)
	}

	tests := []struct {
		name    string
		now     time.Time
		loc     *time.Location
		runHour int
		want    time.Time
	}{
		{
			name:    "after run hour",
			now:     time.Date(2025, 3, 10, 1, 30, 0, 0, time.UTC), // 09:30 SGT
			loc:     sgt,
			runHour: 8,
			want:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "before run hour rolls back",
			now:     time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC), // 07:00 SGT Mar 10
			loc:     sgt,
			runHour: 8,
			want:    time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "utc noon",
			now:     time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
			loc:     time.UTC,
			runHour: 8,
			want:    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:    "utc early morning",
			now:     time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC),
			loc:     time.UTC,
			runHour: 8,
			want:    time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := analysisNight(tt.now, tt.loc, tt.runHour)
			if !got.Equal(tt.want) {
				t.Errorf("analysisNight(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func newTestScheduler(r *Runner, sts []models.Station, cfg SchedulerConfig) *Scheduler {
	if cfg.RunTZ == nil {
		cfg.RunTZ = time.UTC
	}
	if cfg.RunHour == 0 {
		cfg.RunHour = 8
	}
	s := NewScheduler(r, sts, cfg)
	s.now = func() time.Time { return testNow }
	return s
}

func TestSchedulerRunCycle(t *testing.T) {
	st := setupAnalysisStore(t)
	raw := rawForNight("KAK", flatAmp(6))
	r := newTestRunner(st, raw, &fakeDist{}, testConfig())
	sts := []models.Station{utcStation("KAK"), utcStation("ABG")}
	s := newTestScheduler(r, sts, SchedulerConfig{})

	s.RunCycle(context.Background())

	rec, err := st.GetNightlyRecord("KAK", testNight)
	if err != nil {
		t.Fatalf("GetNightlyRecord: %v", err)
	}
	if rec == nil {
		t.Fatal("KAK night not persisted")
	}

	// ABG has no data and fails, which must not block KAK.
	abg, err := st.GetNightlyRecord("ABG", testNight)
	if err != nil {
		t.Fatalf("GetNightlyRecord: %v", err)
	}
	if abg != nil {
		t.Error("ABG persisted a record with no raw data")
	}
}

func TestSchedulerBackfill(t *testing.T) {
	st := setupAnalysisStore(t)

	// Three consecutive nights of day files. A local day file carries
	// the morning hours of its own night and the evening hours of the
	// next one.
	files := map[string][]models.Sample{}
	for back := 2; back >= 0; back-- {
		night := testNight.AddDate(0, 0, -back)
		start := testWindowStart.AddDate(0, 0, -back)
		evening, morning := buildNightFiles(start, flatAmp(6))
		evKey := rawKey("KAK", night.AddDate(0, 0, -1))
		files[evKey] = append(files[evKey], evening...)
		ntKey := rawKey("KAK", night)
		files[ntKey] = append(files[ntKey], morning...)
	}
	raw := &fakeRaw{days: files}
	r := newTestRunner(st, raw, &fakeDist{}, testConfig())
	s := newTestScheduler(r, []models.Station{utcStation("KAK")}, SchedulerConfig{})

	// A stub record for the middle night proves backfill forces
	// recomputation.
	if err := st.SaveNightlyRecord(&models.NightlyRecord{
		StationCode:     "KAK",
		NightDate:       testNight.AddDate(0, 0, -1),
		ThresholdMethod: "k-sigma",
	}); err != nil {
		t.Fatalf("seed stub record: %v", err)
	}

	s.Backfill(context.Background(), 3)

	for back := 2; back >= 0; back-- {
		night := testNight.AddDate(0, 0, -back)
		rec, err := st.GetNightlyRecord("KAK", night)
		if err != nil {
			t.Fatalf("GetNightlyRecord(%s): %v", night.Format("2006-01-02"), err)
		}
		if rec == nil {
			t.Fatalf("night %s not backfilled", night.Format("2006-01-02"))
		}
		if rec.WindowCount != 8 {
			t.Errorf("night %s WindowCount = %d, want 8", night.Format("2006-01-02"), rec.WindowCount)
		}
		// Oldest-first processing lets each night pool its
		// predecessors: 1, 2 then 3 contributing nights.
		if want := 3 - back; rec.PoolNights != want {
			t.Errorf("night %s PoolNights = %d, want %d", night.Format("2006-01-02"), rec.PoolNights, want)
		}
	}
}

func TestSchedulerRunNightAt(t *testing.T) {
	st := setupAnalysisStore(t)

	night := testNight.AddDate(0, 0, -1)
	evening, morning := buildNightFiles(testWindowStart.AddDate(0, 0, -1), flatAmp(6))
	raw := &fakeRaw{days: map[string][]models.Sample{
		rawKey("KAK", night.AddDate(0, 0, -1)): evening,
		rawKey("KAK", night):                   morning,
	}}
	r := newTestRunner(st, raw, &fakeDist{}, testConfig())
	s := newTestScheduler(r, []models.Station{utcStation("KAK")}, SchedulerConfig{})

	// An existing stub proves the named night is recomputed.
	if err := st.SaveNightlyRecord(&models.NightlyRecord{
		StationCode:     "KAK",
		NightDate:       night,
		ThresholdMethod: "k-sigma",
	}); err != nil {
		t.Fatalf("seed stub record: %v", err)
	}

	s.RunNightAt(context.Background(), night)

	rec, err := st.GetNightlyRecord("KAK", night)
	if err != nil {
		t.Fatalf("GetNightlyRecord: %v", err)
	}
	if rec == nil || rec.WindowCount != 8 {
		t.Fatalf("rec = %+v, want a recomputed night with 8 windows", rec)
	}
}

func TestSchedulerPanicIsolation(t *testing.T) {
	st := setupAnalysisStore(t)

	good := rawForNight("KAK", flatAmp(6))
	raw := &splitRaw{good: good, panicCode: "BAD"}
	r := newTestRunner(st, raw, &fakeDist{}, testConfig())
	sts := []models.Station{utcStation("BAD"), utcStation("KAK")}
	s := newTestScheduler(r, sts, SchedulerConfig{})

	s.RunCycle(context.Background())

	rec, err := st.GetNightlyRecord("KAK", testNight)
	if err != nil {
		t.Fatalf("GetNightlyRecord: %v", err)
	}
	if rec == nil {
		t.Fatal("panic in one station stopped the cycle")
	}
}

type splitRaw struct {
	good      *fakeRaw
	panicCode string
}

func (s *splitRaw) Day(code string, day time.Time) ([]models.Sample, error) {
	if code == s.panicCode {
		panic("corrupt day file")
	}
	return s.good.Day(code, day)
}

func TestSchedulerPruneHook(t *testing.T) {
	st := setupAnalysisStore(t)
	r := newTestRunner(st, rawForNight("KAK", flatAmp(6)), &fakeDist{}, testConfig())
	s := newTestScheduler(r, []models.Station{utcStation("KAK")}, SchedulerConfig{RawRetentionNights: 7})

	var gotCutoff time.Time
	s.PruneRaw = func(cutoff time.Time) (int, error) {
		gotCutoff = cutoff
		return 2, nil
	}

	s.RunCycle(context.Background())

	want := testNight.AddDate(0, 0, -7)
	if !gotCutoff.Equal(want) {
		t.Errorf("prune cutoff = %v, want %v", gotCutoff, want)
	}
}

func TestSchedulerCancelledContext(t *testing.T) {
	st := setupAnalysisStore(t)
	raw := rawForNight("KAK", flatAmp(6))
	r := newTestRunner(st, raw, &fakeDist{}, testConfig())
	s := newTestScheduler(r, []models.Station{utcStation("KAK")}, SchedulerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.RunCycle(ctx)

	if len(raw.calls) != 0 {
		t.Errorf("cancelled cycle still acquired data: %v", raw.calls)
	}
}
