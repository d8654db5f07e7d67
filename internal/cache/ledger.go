package cache

import (
	"time"
)

// interval is one use of an image by one container. End is zero while
// the container is still running.
type interval struct {
	Start time.Time
	End   time.Time
}

// holdKey identifies the open interval for an (image, container) pair.
type holdKey struct {
	image     string
	container string
}

// imageRecord is the ledger's per-image state.
type imageRecord struct {
	// containers currently holding the image
	containers map[string]struct{}

	// full usage history, append-only; windowed reads never prune it
	history []interval
}

// ledger tracks which containers hold which images and the usage
// intervals of every image. It is not safe for concurrent use; the
// Cache serializes all access under its own mutex.
type ledger struct {
	images map[string]*imageRecord

	// admission order of the images map, used for deterministic
	// iteration and eviction tie-breaking
	order []string

	// open intervals: (image, container) -> index into the image's history
	holds map[holdKey]int
}

func newLedger() *ledger {
	return &ledger{
		images: make(map[string]*imageRecord),
		holds:  make(map[holdKey]int),
	}
}

// add registers a new image. The caller must have checked that the key
// is not already present.
func (l *ledger) add(image string) {
	l.images[image] = &imageRecord{containers: make(map[string]struct{})}
	l.order = append(l.order, image)
}

// remove drops an image and its entire history. Holds cannot exist for
// an evictable image, but stray ones are cleared anyway so a later
// recordStop cannot index into a dead record.
func (l *ledger) remove(image string) {
	delete(l.images, image)
	for i, key := range l.order {
		if key == image {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	for k := range l.holds {
		if k.image == image {
			delete(l.holds, k)
		}
	}
}

func (l *ledger) contains(image string) bool {
	_, ok := l.images[image]
	return ok
}

func (l *ledger) len() int {
	return len(l.images)
}

// recordStart opens a usage interval for (image, container) at now and
// marks the container as an active holder. A start for a pair that is
// already open appends a fresh interval and repoints the hold at it;
// the superseded interval stays open forever and never accrues time.
func (l *ledger) recordStart(image, container string, now time.Time) {
	rec := l.images[image]
	rec.containers[container] = struct{}{}
	rec.history = append(rec.history, interval{Start: now})
	l.holds[holdKey{image, container}] = len(rec.history) - 1
}

// recordStop closes the open interval for (image, container) and drops
// the container from the active set. A stop with no matching hold is a
// no-op, so duplicate completion notifications cannot corrupt state.
func (l *ledger) recordStop(image, container string, now time.Time) {
	key := holdKey{image, container}
	idx, ok := l.holds[key]
	if !ok {
		return
	}
	rec := l.images[image]
	rec.history[idx].End = now
	delete(l.holds, key)
	delete(rec.containers, container)
}

// isEvictable reports whether no container currently holds the image.
func (l *ledger) isEvictable(image string) bool {
	rec, ok := l.images[image]
	return ok && len(rec.containers) == 0
}

// unusedImages returns the images with no active holders, in admission
// order.
func (l *ledger) unusedImages() []string {
	var unused []string
	for _, image := range l.order {
		if len(l.images[image].containers) == 0 {
			unused = append(unused, image)
		}
	}
	return unused
}

// recentUsageCount counts intervals that started within the trailing
// window ending at now. Ongoing intervals count.
func (l *ledger) recentUsageCount(image string, now time.Time, window time.Duration) int {
	rec, ok := l.images[image]
	if !ok {
		return 0
	}
	cutoff := now.Add(-window)
	count := 0
	for _, iv := range rec.history {
		if !iv.Start.Before(cutoff) {
			count++
		}
	}
	return count
}

// recentTotalTime sums the durations of completed intervals that
// started within the trailing window ending at now. Ongoing intervals
// have no completed duration and contribute zero.
func (l *ledger) recentTotalTime(image string, now time.Time, window time.Duration) time.Duration {
	rec, ok := l.images[image]
	if !ok {
		return 0
	}
	cutoff := now.Add(-window)
	var total time.Duration
	for _, iv := range rec.history {
		if iv.End.IsZero() || iv.Start.Before(cutoff) {
			continue
		}
		total += iv.End.Sub(iv.Start)
	}
	return total
}

// stats returns the observable state of one image.
func (l *ledger) stats(image string, now time.Time, window time.Duration) ImageStats {
	return ImageStats{
		Image:            image,
		ActiveContainers: len(l.images[image].containers),
		RecentStarts:     l.recentUsageCount(image, now, window),
		RecentBusy:       l.recentTotalTime(image, now, window),
	}
}
