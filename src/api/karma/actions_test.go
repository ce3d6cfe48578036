package karma

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// A Wednesday, so no weekend bonus interferes.
var midweek = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

func TestQualityMultiplierDefault(t *testing.T) {
	assert.Equal(t, 1.0, QualityMultiplier(Context{Now: midweek}))
}

func TestQualityMultiplierTrendingAndViral(t *testing.T) {
	assert.Equal(t, 1.5, QualityMultiplier(Context{Now: midweek, PostViews: 1000}))
	assert.Equal(t, 2.0, QualityMultiplier(Context{Now: midweek, PostViews: 10000}))
}

func TestQualityMultiplierUpvoteRatio(t *testing.T) {
	// 9/10 upvotes clears the 0.8 ratio floor.
	assert.Equal(t, 1.25, QualityMultiplier(Context{Now: midweek, Upvotes: 9, Downvotes: 1}))
	// Too few votes for the bonus even at 100% approval.
	assert.Equal(t, 1.0, QualityMultiplier(Context{Now: midweek, Upvotes: 5}))
	// Ratio below the floor.
	assert.Equal(t, 1.0, QualityMultiplier(Context{Now: midweek, Upvotes: 7, Downvotes: 3}))
}

func TestQualityMultiplierNewUser(t *testing.T) {
	created := midweek.Add(-3 * 24 * time.Hour)
	assert.Equal(t, 1.2, QualityMultiplier(Context{Now: midweek, UserCreatedAt: created}))

	old := midweek.Add(-30 * 24 * time.Hour)
	assert.Equal(t, 1.0, QualityMultiplier(Context{Now: midweek, UserCreatedAt: old}))
}

func TestQualityMultiplierWeekend(t *testing.T) {
	saturday := time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 1.1, QualityMultiplier(Context{Now: saturday}))
}

func TestQualityMultiplierStacks(t *testing.T) {
	// Viral post by a new user: 2.0 * 1.2.
	got := QualityMultiplier(Context{
		Now:           midweek,
		PostViews:     20000,
		UserCreatedAt: midweek.Add(-24 * time.Hour),
	})
	assert.InDelta(t, 2.4, got, 1e-9)
}

func TestGenerationDecay(t *testing.T) {
	assert.Equal(t, 1.0, GenerationDecay(0)) // treated as generation 1
	assert.Equal(t, 1.0, GenerationDecay(1))
	assert.Equal(t, 0.75, GenerationDecay(2))
	assert.Equal(t, 0.50, GenerationDecay(3))
	assert.Equal(t, 0.25, GenerationDecay(4))
	assert.Equal(t, 0.10, GenerationDecay(5))
	assert.Equal(t, 0.10, GenerationDecay(42))
}

func TestBasePoints(t *testing.T) {
	pts, ok := BasePoints(ActionSnowballInitiated)
	assert.True(t, ok)
	assert.Equal(t, int64(10), pts)

	_, ok = BasePoints("made_up_action")
	assert.False(t, ok)
}
