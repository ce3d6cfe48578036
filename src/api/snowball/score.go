package snowball

import (
	"sort"
	"strings"
	"time"
)

// Hard ceiling on recipients per event regardless of repository settings.
const MaxSnowballRecipients = 500

// Candidate is an immutable snapshot of a verified member at selection
// time. Scoring is pure over these snapshots so it can be exercised
// without a live store.
type Candidate struct {
	MemberID      uint64
	Email         string
	Tags          []string
	Opens         int64
	Clicks        int64
	Contributions int64
	LastActiveAt  *time.Time
}

type Scored struct {
	Candidate
	Score float64
}

// ActivityBonus rewards engagement. Each condition counts independently.
func ActivityBonus(c Candidate) float64 {
	var bonus float64
	if c.Opens > 10 {
		bonus++
	}
	if c.Clicks > 5 {
		bonus++
	}
	if c.Contributions > 0 {
		bonus += 2
	}
	return bonus
}

// RecencyBonus: +2 active within 7 days, +1 within 30, else 0.
func RecencyBonus(c Candidate, now time.Time) float64 {
	if c.LastActiveAt == nil {
		return 0
	}
	idle := now.Sub(*c.LastActiveAt)
	switch {
	case idle <= 7*24*time.Hour:
		return 2
	case idle <= 30*24*time.Hour:
		return 1
	}
	return 0
}

// TopicBonus is the fraction of post hashtags present in the candidate's
// tags, times 3. Empty sets on either side score 0.
func TopicBonus(tags, hashtags []string) float64 {
	if len(tags) == 0 || len(hashtags) == 0 {
		return 0
	}
	have := make(map[string]bool, len(tags))
	for _, t := range tags {
		have[strings.ToLower(t)] = true
	}
	matched := 0
	for _, h := range hashtags {
		if have[strings.ToLower(h)] {
			matched++
		}
	}
	return float64(matched) / float64(len(hashtags)) * 3
}

func Score(c Candidate, hashtags []string, now time.Time) float64 {
	return ActivityBonus(c) + RecencyBonus(c, now) + TopicBonus(c.Tags, hashtags)
}

// Select scores every candidate, keeps those at or above the threshold,
// orders them by score descending (ties broken by most recent activity)
// and truncates to min(limit, MaxSnowballRecipients).
func Select(candidates []Candidate, hashtags []string, threshold float64, limit int, now time.Time) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		s := Score(c, hashtags, now)
		if s >= threshold {
			scored = append(scored, Scored{Candidate: c, Score: s})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return lastActive(scored[i].Candidate).After(lastActive(scored[j].Candidate))
	})

	if limit > MaxSnowballRecipients || limit <= 0 {
		limit = MaxSnowballRecipients
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func lastActive(c Candidate) time.Time {
	if c.LastActiveAt == nil {
		return time.Time{}
	}
	return *c.LastActiveAt
}
