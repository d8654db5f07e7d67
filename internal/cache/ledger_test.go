package cache

import (
	"testing"
	"time"
)

func testTime() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestLedger_StartStop(t *testing.T) {
	l := newLedger()
	now := testTime()

	l.add("image1")
	l.recordStart("image1", "container1", now)

	if l.isEvictable("image1") {
		t.Error("image with an active container must not be evictable")
	}

	l.recordStart("image1", "container2", now.Add(time.Second))
	l.recordStop("image1", "container1", now.Add(10*time.Second))

	if l.isEvictable("image1") {
		t.Error("image still held by container2 must not be evictable")
	}

	l.recordStop("image1", "container2", now.Add(20*time.Second))

	if !l.isEvictable("image1") {
		t.Error("image with no active containers must be evictable")
	}
}

func TestLedger_StopWithoutStartIsNoop(t *testing.T) {
	l := newLedger()
	now := testTime()

	l.add("image1")
	l.recordStart("image1", "container1", now)
	l.recordStop("image1", "container1", now.Add(5*time.Second))

	// double stop and stop for a never-started pair
	l.recordStop("image1", "container1", now.Add(6*time.Second))
	l.recordStop("image1", "container9", now.Add(6*time.Second))

	if got := l.recentTotalTime("image1", now.Add(6*time.Second), time.Minute); got != 5*time.Second {
		t.Errorf("recentTotalTime = %v, want 5s (duplicate stops must not change state)", got)
	}
	if !l.isEvictable("image1") {
		t.Error("image must stay evictable after duplicate stops")
	}
}

func TestLedger_UnusedImagesInAdmissionOrder(t *testing.T) {
	l := newLedger()
	now := testTime()

	for _, image := range []string{"c", "a", "b"} {
		l.add(image)
	}
	l.recordStart("a", "container1", now)

	unused := l.unusedImages()
	if len(unused) != 2 || unused[0] != "c" || unused[1] != "b" {
		t.Errorf("unusedImages = %v, want [c b] in admission order", unused)
	}
}

func TestLedger_RecentUsageCount(t *testing.T) {
	l := newLedger()
	now := testTime()
	window := time.Minute

	l.add("image1")
	l.recordStart("image1", "container1", now.Add(-2*time.Minute)) // outside window
	l.recordStop("image1", "container1", now.Add(-90*time.Second))
	l.recordStart("image1", "container2", now.Add(-30*time.Second)) // inside, ongoing
	l.recordStart("image1", "container3", now.Add(-10*time.Second)) // inside, ongoing

	if got := l.recentUsageCount("image1", now, window); got != 2 {
		t.Errorf("recentUsageCount = %d, want 2 (ongoing intervals inside the window count)", got)
	}
	if got := l.recentUsageCount("missing", now, window); got != 0 {
		t.Errorf("recentUsageCount for unknown image = %d, want 0", got)
	}
}

func TestLedger_RecentTotalTimeExcludesOngoing(t *testing.T) {
	l := newLedger()
	now := testTime()
	window := time.Minute

	l.add("image1")
	l.recordStart("image1", "container1", now.Add(-40*time.Second))
	l.recordStop("image1", "container1", now.Add(-25*time.Second))  // 15s completed
	l.recordStart("image1", "container2", now.Add(-20*time.Second)) // ongoing

	if got := l.recentTotalTime("image1", now, window); got != 15*time.Second {
		t.Errorf("recentTotalTime = %v, want 15s (ongoing interval contributes zero)", got)
	}
}

func TestLedger_WindowExpiryZeroesStatsButKeepsHistory(t *testing.T) {
	l := newLedger()
	start := testTime()
	window := time.Minute

	l.add("image1")
	l.recordStart("image1", "container1", start)
	l.recordStop("image1", "container1", start.Add(10*time.Second))

	// fresh stats inside the window
	if got := l.recentUsageCount("image1", start.Add(30*time.Second), window); got != 1 {
		t.Fatalf("recentUsageCount inside window = %d, want 1", got)
	}

	// everything slides out of the window
	later := start.Add(2 * time.Minute)
	if got := l.recentUsageCount("image1", later, window); got != 0 {
		t.Errorf("recentUsageCount after window = %d, want 0", got)
	}
	if got := l.recentTotalTime("image1", later, window); got != 0 {
		t.Errorf("recentTotalTime after window = %v, want 0", got)
	}

	// lifetime history is retained
	if got := len(l.images["image1"].history); got != 1 {
		t.Errorf("history length = %d, want 1 (windowed reads must not prune)", got)
	}
}

func TestLedger_RemoveDropsHistoryAndHolds(t *testing.T) {
	l := newLedger()
	now := testTime()

	l.add("image1")
	l.add("image2")
	l.recordStart("image1", "container1", now)
	l.recordStop("image1", "container1", now.Add(time.Second))

	l.remove("image1")

	if l.contains("image1") {
		t.Error("removed image must not be resident")
	}
	if got := l.len(); got != 1 {
		t.Errorf("len = %d, want 1", got)
	}
	if got := l.recentUsageCount("image1", now, time.Minute); got != 0 {
		t.Errorf("recentUsageCount for removed image = %d, want 0", got)
	}

	// a stale stop for the removed image must stay a no-op
	l.recordStop("image1", "container1", now.Add(2*time.Second))
}

func TestLedger_RestartOfOpenPairSupersedesInterval(t *testing.T) {
	l := newLedger()
	now := testTime()
	window := time.Hour

	l.add("image1")
	l.recordStart("image1", "container1", now)
	// same pair starts again without stopping
	l.recordStart("image1", "container1", now.Add(10*time.Second))
	l.recordStop("image1", "container1", now.Add(25*time.Second))

	// only the second interval completes: 15s
	if got := l.recentTotalTime("image1", now.Add(30*time.Second), window); got != 15*time.Second {
		t.Errorf("recentTotalTime = %v, want 15s (stop closes the latest interval)", got)
	}
	if !l.isEvictable("image1") {
		t.Error("image must be evictable after the pair stopped")
	}
}
