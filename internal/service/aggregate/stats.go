package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/Merkirus/cloud-raporting/internal/domain"
)

// percentile returns the p-th percentile (p in 0..100) of an ascending
// sample sequence via linear interpolation between the two nearest order
// statistics. An empty sequence has no percentile; a single sample is
// returned for every p.
func percentile(sorted []float64, p float64) *float64 {
	n := len(sorted)
	if n == 0 {
		return nil
	}
	if n == 1 {
		v := sorted[0]
		return &v
	}
	r := (p / 100) * float64(n-1)
	lo := int(math.Floor(r))
	hi := lo + 1
	if hi > n-1 {
		hi = n - 1
	}
	frac := r - float64(lo)
	v := sorted[lo]*(1-frac) + sorted[hi]*frac
	return &v
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}

func sortedSamples(rows []domain.RawResult, pick func(domain.RawResult) *float64) []float64 {
	samples := make([]float64, 0, len(rows))
	for _, row := range rows {
		if v := pick(row); v != nil {
			samples = append(samples, *v)
		}
	}
	sort.Float64s(samples)
	return samples
}

func buildSummary(sessionID int64, bucketSeconds int, rows []domain.RawResult, updatedAt time.Time) domain.SessionSummary {
	summary := domain.SessionSummary{
		SessionID:     sessionID,
		BucketSeconds: bucketSeconds,
		TotalRequests: int64(len(rows)),
		UpdatedAt:     updatedAt,
	}
	for _, row := range rows {
		if row.Success {
			summary.SuccessRequests++
		}
		switch {
		case row.StatusCode >= 200 && row.StatusCode < 300:
			summary.Status2xx++
		case row.StatusCode >= 400 && row.StatusCode < 500:
			summary.Status4xx++
		case row.StatusCode >= 500 && row.StatusCode < 600:
			summary.Status5xx++
		}
	}
	if summary.TotalRequests > 0 {
		summary.SuccessRate = float64(summary.SuccessRequests) / float64(summary.TotalRequests)
	}

	latencies := sortedSamples(rows, func(r domain.RawResult) *float64 { return r.LatencyMS })
	ttfbs := sortedSamples(rows, func(r domain.RawResult) *float64 { return r.TTFBMS })

	summary.LatencyAvg = mean(latencies)
	summary.LatencyP50 = percentile(latencies, 50)
	summary.LatencyP90 = percentile(latencies, 90)
	summary.LatencyP95 = percentile(latencies, 95)
	summary.LatencyP99 = percentile(latencies, 99)
	summary.TTFBAvg = mean(ttfbs)
	summary.TTFBP95 = percentile(ttfbs, 95)
	return summary
}

type endpointKey struct {
	endpoint string
	method   string
}

func buildEndpointSummaries(sessionID int64, rows []domain.RawResult) []domain.SessionEndpointSummary {
	groups := make(map[endpointKey][]domain.RawResult)
	for _, row := range rows {
		key := endpointKey{endpoint: row.Endpoint, method: row.Method}
		groups[key] = append(groups[key], row)
	}

	keys := make([]endpointKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].endpoint != keys[j].endpoint {
			return keys[i].endpoint < keys[j].endpoint
		}
		return keys[i].method < keys[j].method
	})

	summaries := make([]domain.SessionEndpointSummary, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		s := domain.SessionEndpointSummary{
			SessionID: sessionID,
			Endpoint:  key.endpoint,
			Method:    key.method,
			Count:     int64(len(group)),
		}
		var success int64
		for _, row := range group {
			if row.Success {
				success++
			}
			if row.StatusCode >= 500 && row.StatusCode < 600 {
				s.Status5xx++
			}
		}
		if s.Count > 0 {
			s.SuccessRate = float64(success) / float64(s.Count)
		}
		latencies := sortedSamples(group, func(r domain.RawResult) *float64 { return r.LatencyMS })
		s.LatencyAvg = mean(latencies)
		s.LatencyP95 = percentile(latencies, 95)
		s.LatencyP99 = percentile(latencies, 99)
		summaries = append(summaries, s)
	}
	return summaries
}

// bucketStart floors an epoch second to its bucket boundary. Go integer
// division truncates toward zero, so negative epochs need the extra step.
func bucketStart(epoch, width int64) int64 {
	start := epoch / width * width
	if epoch < 0 && epoch%width != 0 {
		start -= width
	}
	return start
}

// buildTimeseries groups rows into fixed-width buckets starting at
// floor(epoch_seconds / width) * width. All bucket statistics come from the
// single loaded row set; output is ordered by bucket start ascending.
func buildTimeseries(sessionID int64, bucketSeconds int, rows []domain.RawResult) []domain.SessionTimeseriesSummary {
	width := int64(bucketSeconds)
	groups := make(map[int64][]domain.RawResult)
	for _, row := range rows {
		start := bucketStart(row.OccurredAt.Unix(), width)
		groups[start] = append(groups[start], row)
	}

	starts := make([]int64, 0, len(groups))
	for start := range groups {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	summaries := make([]domain.SessionTimeseriesSummary, 0, len(starts))
	for _, start := range starts {
		group := groups[start]
		s := domain.SessionTimeseriesSummary{
			SessionID:     sessionID,
			BucketSeconds: bucketSeconds,
			BucketStart:   time.Unix(start, 0).UTC(),
			Count:         int64(len(group)),
		}
		var success int64
		for _, row := range group {
			if row.Success {
				success++
			}
			if row.StatusCode >= 500 && row.StatusCode < 600 {
				s.Status5xx++
			}
		}
		if s.Count > 0 {
			s.SuccessRate = float64(success) / float64(s.Count)
		}
		latencies := sortedSamples(group, func(r domain.RawResult) *float64 { return r.LatencyMS })
		s.LatencyAvg = mean(latencies)
		s.LatencyP95 = percentile(latencies, 95)
		summaries = append(summaries, s)
	}
	return summaries
}
