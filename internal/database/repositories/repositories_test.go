package repositories

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pterm/pterm"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"logship/internal/database/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.AutoMigrate(&models.LogRecord{}, &models.LogSummary{}, &models.WorkQueueItem{}); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func testLogger() *pterm.Logger {
	return pterm.DefaultLogger.WithLevel(pterm.LogLevelError)
}

func seedRecords(t *testing.T, repo LogRecordRepository, pod string, n int, ts time.Time) {
	t.Helper()
	records := make([]models.LogRecord, n)
	for i := range records {
		records[i] = models.LogRecord{
			DeploymentName: "web",
			PodName:        pod,
			Line:           "line",
			LogLevel:       models.LevelInformation,
			SequenceNumber: int64(i + 1),
			TimeStamp:      ts,
		}
	}
	if err := repo.CreateBatch(records); err != nil {
		t.Fatalf("seeding records: %v", err)
	}
}

func TestLogRecordLatestTimes(t *testing.T) {
	db := testDB(t)
	repo := NewLogRecordRepository(db, testLogger())

	older := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(2 * time.Hour)
	seedRecords(t, repo, "web-a", 2, older)
	seedRecords(t, repo, "web-a", 1, newer)
	seedRecords(t, repo, "worker-a", 1, older)

	latest, err := repo.LatestTimes()
	if err != nil {
		t.Fatalf("LatestTimes: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("got %d sources, want 2", len(latest))
	}
	byPod := map[string]time.Time{}
	for _, l := range latest {
		byPod[l.PodName] = l.LatestTime
	}
	if !byPod["web-a"].Equal(newer) {
		t.Errorf("web-a latest = %v, want %v", byPod["web-a"], newer)
	}
}

func TestParseStoredTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"with offset and fraction", "2026-03-01 10:30:00.000000000+00:00", want},
		{"without offset", "2026-03-01 10:30:00", want},
		{"empty", "", time.Time{}},
		{"garbage", "not-a-time", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseStoredTime(tt.input); !got.Equal(tt.want) {
				t.Errorf("parseStoredTime(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogRecordDeleteBatchRespectsScope(t *testing.T) {
	db := testDB(t)
	repo := NewLogRecordRepository(db, testLogger())

	old := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	recent := old.AddDate(0, 0, 10)
	seedRecords(t, repo, "web-a", 5, old)
	seedRecords(t, repo, "web-a", 5, recent)
	seedRecords(t, repo, "web-b", 5, recent)

	cutoff := old.AddDate(0, 0, 5)
	count, err := repo.CountForPurge("web-a", "", &cutoff)
	if err != nil {
		t.Fatalf("CountForPurge: %v", err)
	}
	if count != 5 {
		t.Fatalf("estimate = %d, want 5 (only web-a rows at or after cutoff)", count)
	}

	deleted, err := repo.DeleteBatch("web-a", "", &cutoff, 3)
	if err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("first batch deleted %d, want 3 (bounded by batch size)", deleted)
	}
	deleted, err = repo.DeleteBatch("web-a", "", &cutoff, 3)
	if err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("second batch deleted %d, want 2", deleted)
	}
	deleted, _ = repo.DeleteBatch("web-a", "", &cutoff, 3)
	if deleted != 0 {
		t.Fatalf("third batch deleted %d, want 0 (scope exhausted)", deleted)
	}

	total, _ := repo.Count()
	if total != 10 {
		t.Errorf("remaining rows = %d, want 10 (old web-a and web-b untouched)", total)
	}
}

func TestLogRecordPodExists(t *testing.T) {
	db := testDB(t)
	repo := NewLogRecordRepository(db, testLogger())
	seedRecords(t, repo, "web-a", 1, time.Now())

	if ok, err := repo.PodExists("web-a"); err != nil || !ok {
		t.Errorf("PodExists(web-a) = %v, %v", ok, err)
	}
	if ok, err := repo.PodExists("ghost"); err != nil || ok {
		t.Errorf("PodExists(ghost) = %v, %v", ok, err)
	}
}

func TestLogSummaryAccumulateAndPurge(t *testing.T) {
	db := testDB(t)
	repo := NewLogSummaryRepository(db, testLogger())

	bucket := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	records := []models.LogRecord{
		{DeploymentName: "web", PodName: "web-a", TimeStamp: bucket.Add(5 * time.Minute), LogLevel: models.LevelError},
		{DeploymentName: "web", PodName: "web-a", TimeStamp: bucket.Add(10 * time.Minute), LogLevel: models.LevelInformation},
		{DeploymentName: "web", PodName: "web-a", TimeStamp: bucket.Add(90 * time.Minute), LogLevel: models.LevelWarning},
	}
	if err := repo.Accumulate(records); err != nil {
		t.Fatalf("Accumulate: %v", err)
	}
	// Second batch into the same first bucket exercises the upsert path.
	if err := repo.Accumulate(records[:1]); err != nil {
		t.Fatalf("Accumulate (second): %v", err)
	}

	summaries, err := repo.FindByPod("web-a", 0)
	if err != nil {
		t.Fatalf("FindByPod: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("buckets = %d, want 2", len(summaries))
	}
	// Newest first: index 1 is the 14:00 bucket.
	first := summaries[1]
	if first.TotalCount != 3 || first.ErrorCount != 2 || first.InformationCount != 1 {
		t.Errorf("14:00 bucket = total %d errors %d info %d, want 3/2/1",
			first.TotalCount, first.ErrorCount, first.InformationCount)
	}

	cutoff := bucket.Add(time.Hour)
	deleted, err := repo.Purge("web-a", "", &cutoff)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Purge deleted %d buckets, want 1 (only the 15:00 bucket)", deleted)
	}
}

func TestWorkQueueEnqueueConflict(t *testing.T) {
	db := testDB(t)
	repo := NewWorkQueueRepository(db, testLogger())

	first := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-a", TimeRange: models.RangeDay}
	if err := repo.Enqueue(first); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first.ID == "" || first.Status != models.WorkItemPending {
		t.Fatalf("enqueued item = %+v", first)
	}

	dup := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-a", TimeRange: models.RangeAll}
	if err := repo.Enqueue(dup); !errors.Is(err, ErrPurgeConflict) {
		t.Fatalf("duplicate enqueue err = %v, want ErrPurgeConflict", err)
	}

	// Other pods are unaffected, and a terminal item frees the pod.
	other := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-b", TimeRange: models.RangeDay}
	if err := repo.Enqueue(other); err != nil {
		t.Fatalf("Enqueue other pod: %v", err)
	}
	if err := repo.Complete(first.ID, 10); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	again := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-a", TimeRange: models.RangeDay}
	if err := repo.Enqueue(again); err != nil {
		t.Fatalf("enqueue after completion: %v", err)
	}
}

func TestWorkQueueClaimOldestPending(t *testing.T) {
	db := testDB(t)
	repo := NewWorkQueueRepository(db, testLogger())

	older := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-a", TimeRange: models.RangeDay}
	if err := repo.Enqueue(older); err != nil {
		t.Fatal(err)
	}
	// Force distinct created_at ordering.
	db.Model(older).Update("created_at", time.Now().Add(-time.Hour))

	newer := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-b", TimeRange: models.RangeDay}
	if err := repo.Enqueue(newer); err != nil {
		t.Fatal(err)
	}

	claimed, err := repo.ClaimOldestPending()
	if err != nil {
		t.Fatalf("ClaimOldestPending: %v", err)
	}
	if claimed == nil || claimed.ID != older.ID {
		t.Fatalf("claimed %+v, want the older item %s", claimed, older.ID)
	}
	if claimed.Status != models.WorkItemInProgress || claimed.StartedAt == nil || claimed.ClaimToken == "" {
		t.Errorf("claimed item not transitioned: %+v", claimed)
	}

	second, err := repo.ClaimOldestPending()
	if err != nil {
		t.Fatal(err)
	}
	if second == nil || second.ID != newer.ID {
		t.Fatalf("second claim = %+v, want %s", second, newer.ID)
	}

	third, err := repo.ClaimOldestPending()
	if err != nil {
		t.Fatal(err)
	}
	if third != nil {
		t.Errorf("claim on empty queue returned %+v, want nil", third)
	}
}

func TestWorkQueueCancelOnlyPending(t *testing.T) {
	db := testDB(t)
	repo := NewWorkQueueRepository(db, testLogger())

	item := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-a", TimeRange: models.RangeDay}
	if err := repo.Enqueue(item); err != nil {
		t.Fatal(err)
	}

	cancelled, err := repo.Cancel(item.ID)
	if err != nil {
		t.Fatalf("Cancel pending: %v", err)
	}
	if cancelled.Status != models.WorkItemCancelled || cancelled.CompletedAt == nil {
		t.Errorf("cancelled item = %+v", cancelled)
	}

	running := &models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: "web-b", TimeRange: models.RangeDay}
	if err := repo.Enqueue(running); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.ClaimOldestPending(); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Cancel(running.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("cancel of in-progress item err = %v, want ErrNotCancellable", err)
	}

	if _, err := repo.Cancel("no-such-id"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("cancel of missing item err = %v, want record not found", err)
	}
}

func TestWorkQueueCountByStatusAndReset(t *testing.T) {
	db := testDB(t)
	repo := NewWorkQueueRepository(db, testLogger())

	for _, pod := range []string{"a", "b", "c"} {
		if err := repo.Enqueue(&models.WorkQueueItem{Type: models.WorkItemLogPurge, PodName: pod, TimeRange: models.RangeDay}); err != nil {
			t.Fatal(err)
		}
	}
	claimed, err := repo.ClaimOldestPending()
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	counts, err := repo.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts.Pending != 2 || counts.InProgress != 1 {
		t.Errorf("counts = %+v, want 2 pending / 1 in progress", counts)
	}

	reset, err := repo.ResetOrphaned()
	if err != nil {
		t.Fatalf("ResetOrphaned: %v", err)
	}
	if reset != 1 {
		t.Fatalf("ResetOrphaned = %d, want 1", reset)
	}
	item, err := repo.FindByID(claimed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if item.Status != models.WorkItemPending || item.ClaimToken != "" {
		t.Errorf("orphan after reset = %+v, want pending with cleared token", item)
	}
}
