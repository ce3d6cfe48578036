package snowball

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scoreNow = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := scoreNow.Add(-d)
	return &t
}

func TestActivityBonus(t *testing.T) {
	assert.Equal(t, 0.0, ActivityBonus(Candidate{}))
	assert.Equal(t, 1.0, ActivityBonus(Candidate{Opens: 11}))
	assert.Equal(t, 0.0, ActivityBonus(Candidate{Opens: 10}), "threshold is strictly greater")
	assert.Equal(t, 1.0, ActivityBonus(Candidate{Clicks: 6}))
	assert.Equal(t, 2.0, ActivityBonus(Candidate{Contributions: 1}))
	assert.Equal(t, 4.0, ActivityBonus(Candidate{Opens: 11, Clicks: 6, Contributions: 3}))
}

func TestRecencyBonus(t *testing.T) {
	assert.Equal(t, 0.0, RecencyBonus(Candidate{}, scoreNow))
	assert.Equal(t, 2.0, RecencyBonus(Candidate{LastActiveAt: ago(24 * time.Hour)}, scoreNow))
	assert.Equal(t, 1.0, RecencyBonus(Candidate{LastActiveAt: ago(20 * 24 * time.Hour)}, scoreNow))
	assert.Equal(t, 0.0, RecencyBonus(Candidate{LastActiveAt: ago(60 * 24 * time.Hour)}, scoreNow))
}

func TestTopicBonus(t *testing.T) {
	assert.Equal(t, 0.0, TopicBonus(nil, []string{"go"}))
	assert.Equal(t, 0.0, TopicBonus([]string{"go"}, nil))
	// All post hashtags present: full 3 points.
	assert.Equal(t, 3.0, TopicBonus([]string{"go", "db"}, []string{"go", "db"}))
	// Half the hashtags present: 1.5.
	assert.Equal(t, 1.5, TopicBonus([]string{"go"}, []string{"go", "rust"}))
	// Matching is case-insensitive.
	assert.Equal(t, 3.0, TopicBonus([]string{"Go"}, []string{"gO"}))
	// Candidate tags outside the post's hashtags don't help.
	assert.Equal(t, 0.0, TopicBonus([]string{"cooking", "hiking"}, []string{"go"}))
}

func TestSelectThresholdAndOrdering(t *testing.T) {
	// Scores engineered to [5, 4, 3, 2, 1] via contributions/opens/clicks
	// and recency.
	candidates := []Candidate{
		// contributions(2) + opens(1) + recent 7d(2) = 5
		{MemberID: 1, Email: "a@x.io", Contributions: 1, Opens: 20, LastActiveAt: ago(24 * time.Hour)},
		// contributions(2) + recent 7d(2) = 4
		{MemberID: 2, Email: "b@x.io", Contributions: 1, LastActiveAt: ago(48 * time.Hour)},
		// contributions(2) + recent 30d(1) = 3
		{MemberID: 3, Email: "c@x.io", Contributions: 1, LastActiveAt: ago(10 * 24 * time.Hour)},
		// opens(1) + recent 30d(1) = 2
		{MemberID: 4, Email: "d@x.io", Opens: 15, LastActiveAt: ago(10 * 24 * time.Hour)},
		// recent 30d(1) = 1
		{MemberID: 5, Email: "e@x.io", LastActiveAt: ago(10 * 24 * time.Hour)},
	}

	selected := Select(candidates, nil, 3, 3, scoreNow)
	require.Len(t, selected, 3)
	assert.Equal(t, uint64(1), selected[0].MemberID)
	assert.Equal(t, uint64(2), selected[1].MemberID)
	assert.Equal(t, uint64(3), selected[2].MemberID)
	assert.Equal(t, []float64{5, 4, 3}, []float64{selected[0].Score, selected[1].Score, selected[2].Score})
}

func TestSelectTieBreakByRecency(t *testing.T) {
	candidates := []Candidate{
		{MemberID: 1, Email: "older@x.io", Contributions: 1, LastActiveAt: ago(6 * 24 * time.Hour)},
		{MemberID: 2, Email: "newer@x.io", Contributions: 1, LastActiveAt: ago(24 * time.Hour)},
	}

	selected := Select(candidates, nil, 0, 10, scoreNow)
	require.Len(t, selected, 2)
	assert.Equal(t, uint64(2), selected[0].MemberID, "same score, most recently active first")
}

func TestSelectThresholdExcludes(t *testing.T) {
	candidates := []Candidate{
		{MemberID: 1, Email: "hot@x.io", Contributions: 1, LastActiveAt: ago(24 * time.Hour)}, // 4
		{MemberID: 2, Email: "cold@x.io"}, // 0
	}

	selected := Select(candidates, nil, 3, 10, scoreNow)
	require.Len(t, selected, 1)
	assert.Equal(t, uint64(1), selected[0].MemberID)
}

func TestSelectBound(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 40; i++ {
		candidates = append(candidates, Candidate{
			MemberID:      uint64(i + 1),
			Email:         fmt.Sprintf("m%d@x.io", i),
			Contributions: 1,
			LastActiveAt:  ago(time.Duration(i+1) * time.Hour),
		})
	}

	selected := Select(candidates, nil, 0, 25, scoreNow)
	require.Len(t, selected, 25)

	// Each recipient appears at most once.
	seen := make(map[uint64]bool)
	for _, s := range selected {
		require.False(t, seen[s.MemberID])
		seen[s.MemberID] = true
	}
}

func TestSelectCapsAtPlatformMax(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < MaxSnowballRecipients+50; i++ {
		candidates = append(candidates, Candidate{
			MemberID:      uint64(i + 1),
			Contributions: 1,
		})
	}

	selected := Select(candidates, nil, 0, 0, scoreNow)
	require.Len(t, selected, MaxSnowballRecipients)
}
