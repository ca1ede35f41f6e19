package audit

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veritas-hq/veritas/internal/rbac"
)

// HighRiskThreshold is the risk score above which a user is flagged by the
// periodic scan.
const HighRiskThreshold = 50.0

// riskScale maps the average weighted event risk onto [0, 100]. The divisor
// is the largest per-event contribution a decision can make (a denied check
// at full failure multiplier), so a trail of nothing but denials saturates
// at exactly 100 and adding one more denial can never lower the score.
const riskScale = 100.0 / (2.0 * failureMultiplier)

// RiskScore computes the weighted risk score of an activity window on a
// 0..100 scale. An empty window scores zero.
func RiskScore(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entries {
		w := e.Action.Weight()
		if !e.Success {
			w *= failureMultiplier
		}
		sum += w
	}
	score := sum / float64(len(entries)) * riskScale
	if score > 100 {
		score = 100
	}
	return score
}

// RiskLevel buckets contextual entry scores.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// privilegedResources are the resources whose events carry extra risk:
// touching them reshapes who can do what.
var privilegedResources = map[rbac.Resource]struct{}{
	rbac.ResourceRoles: {},
	rbac.ResourceAudit: {},
}

// EntryRiskLevel scores one entry in the context of the same user's
// activity over the preceding hour. Failures, privileged resources, bursts
// of activity, and clusters of failures each add to the score.
func EntryRiskLevel(e Entry, priorHour []Entry) RiskLevel {
	score := 0
	if !e.Success {
		score += 2
	}
	if _, ok := privilegedResources[e.Resource]; ok {
		score++
	}
	failures := 0
	for _, p := range priorHour {
		if !p.Success {
			failures++
		}
	}
	if len(priorHour) > 10 {
		score++
	}
	if failures > 3 {
		score += 2
	}
	switch {
	case score >= 6:
		return RiskCritical
	case score >= 4:
		return RiskHigh
	case score >= 2:
		return RiskMedium
	}
	return RiskLow
}

// EntryRisk pairs one trail entry with its contextual risk level.
type EntryRisk struct {
	Entry
	RiskLevel RiskLevel `json:"risk_level"`
}

// annotateRisk scores each of one user's entries against that user's
// activity in the hour preceding it. Input order does not matter; the
// result is newest-first.
func annotateRisk(entries []Entry) []EntryRisk {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	annotated := make([]EntryRisk, 0, len(sorted))
	for i, e := range sorted {
		var priorHour []Entry
		cutoff := e.Timestamp.Add(-time.Hour)
		for _, p := range sorted[i+1:] {
			if p.Timestamp.Before(cutoff) {
				break
			}
			priorHour = append(priorHour, p)
		}
		annotated = append(annotated, EntryRisk{Entry: e, RiskLevel: EntryRiskLevel(e, priorHour)})
	}
	return annotated
}

// CountStat is one (key, count) aggregate row.
type CountStat struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// TrendPoint is one bucket of a time-series aggregate.
type TrendPoint struct {
	Bucket time.Time `json:"bucket"`
	Count  int       `json:"count"`
	Denied int       `json:"denied"`
}

// Summary aggregates a trail window for dashboards.
type Summary struct {
	From         time.Time    `json:"from"`
	To           time.Time    `json:"to"`
	TotalEntries int          `json:"total_entries"`
	DeniedCount  int          `json:"denied_count"`
	RiskScore    float64      `json:"risk_score"`
	TopUsers     []CountStat  `json:"top_users"`
	TopResources []CountStat  `json:"top_resources"`
	TopActions   []CountStat  `json:"top_actions"`
	Hourly       []TrendPoint `json:"hourly"`
	Daily        []TrendPoint `json:"daily"`
}

// UserRisk is the per-user risk report produced by the periodic scan and
// the on-demand endpoint.
type UserRisk struct {
	UserID     string    `json:"user_id"`
	WindowFrom time.Time `json:"window_from"`
	WindowTo   time.Time `json:"window_to"`
	Entries    int       `json:"entries"`
	Denied     int       `json:"denied"`
	RiskScore  float64   `json:"risk_score"`
	HighRisk   bool      `json:"high_risk"`

	// Timeline carries the window's entries with per-entry risk levels,
	// newest first. Populated for single-user reports; the periodic scan
	// leaves it empty.
	Timeline []EntryRisk `json:"timeline,omitempty"`
}

const topStatLimit = 10

// Summarize builds the window summary. The aggregates are independent, so
// they fan out on an errgroup over one shared snapshot of the window.
func (s *Service) Summarize(ctx context.Context, from, to time.Time) (Summary, error) {
	entries, err := s.repo.All(ctx, Filters{From: from, To: to})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{From: from, To: to, TotalEntries: len(entries)}
	for _, e := range entries {
		if e.Action == ActionPermissionDenied {
			summary.DeniedCount++
		}
	}
	summary.RiskScore = RiskScore(entries)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		summary.TopUsers = topCounts(entries, func(e Entry) string { return e.UserID })
		return nil
	})
	g.Go(func() error {
		summary.TopResources = topCounts(entries, func(e Entry) string { return string(e.Resource) })
		return nil
	})
	g.Go(func() error {
		summary.TopActions = topCounts(entries, func(e Entry) string { return string(e.Action) })
		return nil
	})
	g.Go(func() error {
		summary.Hourly = trend(entries, time.Hour)
		return nil
	})
	g.Go(func() error {
		summary.Daily = trend(entries, 24*time.Hour)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// ScoreUser computes one user's risk over the given window.
func (s *Service) ScoreUser(ctx context.Context, userID string, from, to time.Time) (UserRisk, error) {
	entries, err := s.repo.RecentByUser(ctx, userID, from, to)
	if err != nil {
		return UserRisk{}, err
	}
	risk := UserRisk{
		UserID:     userID,
		WindowFrom: from,
		WindowTo:   to,
		Entries:    len(entries),
		RiskScore:  RiskScore(entries),
		Timeline:   annotateRisk(entries),
	}
	for _, e := range entries {
		if e.Action == ActionPermissionDenied {
			risk.Denied++
		}
	}
	risk.HighRisk = risk.RiskScore > HighRiskThreshold
	return risk, nil
}

// ScanWindow scores every user active in the window and returns those above
// the high-risk threshold, highest first.
func (s *Service) ScanWindow(ctx context.Context, from, to time.Time) ([]UserRisk, error) {
	entries, err := s.repo.All(ctx, Filters{From: from, To: to})
	if err != nil {
		return nil, err
	}
	byUser := make(map[string][]Entry)
	for _, e := range entries {
		byUser[e.UserID] = append(byUser[e.UserID], e)
	}

	var flagged []UserRisk
	for userID, userEntries := range byUser {
		score := RiskScore(userEntries)
		if score <= HighRiskThreshold {
			continue
		}
		risk := UserRisk{
			UserID:     userID,
			WindowFrom: from,
			WindowTo:   to,
			Entries:    len(userEntries),
			RiskScore:  score,
			HighRisk:   true,
		}
		for _, e := range userEntries {
			if e.Action == ActionPermissionDenied {
				risk.Denied++
			}
		}
		flagged = append(flagged, risk)
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].RiskScore != flagged[j].RiskScore {
			return flagged[i].RiskScore > flagged[j].RiskScore
		}
		return flagged[i].UserID < flagged[j].UserID
	})
	return flagged, nil
}

func topCounts(entries []Entry, key func(Entry) string) []CountStat {
	counts := make(map[string]int)
	for _, e := range entries {
		if k := key(e); k != "" {
			counts[k]++
		}
	}
	stats := make([]CountStat, 0, len(counts))
	for k, c := range counts {
		stats = append(stats, CountStat{Key: k, Count: c})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Key < stats[j].Key
	})
	if len(stats) > topStatLimit {
		stats = stats[:topStatLimit]
	}
	return stats
}

func trend(entries []Entry, bucket time.Duration) []TrendPoint {
	byBucket := make(map[time.Time]*TrendPoint)
	for _, e := range entries {
		b := e.Timestamp.UTC().Truncate(bucket)
		point, ok := byBucket[b]
		if !ok {
			point = &TrendPoint{Bucket: b}
			byBucket[b] = point
		}
		point.Count++
		if e.Action == ActionPermissionDenied {
			point.Denied++
		}
	}
	points := make([]TrendPoint, 0, len(byBucket))
	for _, p := range byBucket {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Bucket.Before(points[j].Bucket) })
	return points
}
