package analysis

// DepthTracker counts repetition batches observed per job during one
// collection cycle. It is owned and mutated exclusively by that cycle and
// is never shared across sessions.
type DepthTracker struct {
	depths map[int64]int
}

// NewDepthTracker returns an empty tracker.
func NewDepthTracker() *DepthTracker {
	return &DepthTracker{depths: make(map[int64]int)}
}

// Observe increments the depth of every distinct job id in the batch by
// exactly one, regardless of how many records the batch carried per job.
func (t *DepthTracker) Observe(jobIDs []int64) {
	seen := make(map[int64]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		t.depths[id]++
	}
}

// CompleteByDepth reports whether every tracked job reached the target
// depth. An empty tracker is never depth-complete.
func (t *DepthTracker) CompleteByDepth(target int) bool {
	if len(t.depths) == 0 {
		return false
	}
	for _, depth := range t.depths {
		if depth < target {
			return false
		}
	}
	return true
}

// Len returns the number of tracked jobs.
func (t *DepthTracker) Len() int {
	return len(t.depths)
}

// Snapshot returns a copy of the job depth mapping.
func (t *DepthTracker) Snapshot() map[int64]int {
	snapshot := make(map[int64]int, len(t.depths))
	for id, depth := range t.depths {
		snapshot[id] = depth
	}
	return snapshot
}
