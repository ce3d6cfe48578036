package karma

import "time"

// Scoring actions
const (
	ActionPostCreated       = "post_created"
	ActionCommentCreated    = "comment_created"
	ActionUpvoteReceived    = "upvote_received"
	ActionDownvoteReceived  = "downvote_received"
	ActionCsvUpload         = "csv_upload"
	ActionSnowballInitiated = "snowball_initiated"
	ActionEmailVerified     = "repository_email_verified"
	ActionSpamPenalty       = "spam_penalty"
)

var basePoints = map[string]int64{
	ActionPostCreated:       5,
	ActionCommentCreated:    2,
	ActionUpvoteReceived:    1,
	ActionDownvoteReceived:  -1,
	ActionCsvUpload:         3,
	ActionSnowballInitiated: 10,
	ActionEmailVerified:     2,
	ActionSpamPenalty:       -50,
}

// Quality multiplier thresholds
const (
	trendingViews = 1000
	viralViews    = 10000

	upvoteRatioFloor   = 0.8
	upvoteRatioMinimum = 10 // total votes before the ratio bonus applies

	newUserWindow = 7 * 24 * time.Hour
)

// Generation reward decay: full reward at generation 1, then 75/50/25
// percent; everything past MaxRewardGeneration pays 10 percent.
const MaxRewardGeneration = 4

var generationDecay = [...]float64{1.0, 0.75, 0.50, 0.25}

// Context carries the quality signals evaluated when scoring an action.
// Zero values leave every multiplier at 1.0.
type Context struct {
	RelatedKind string
	RelatedID   uint64

	PostViews     int64
	Upvotes       int64
	Downvotes     int64
	UserCreatedAt time.Time
	Generation    int // snowball chain hop, 0 when not snowball related
	Now           time.Time
}

func BasePoints(action string) (int64, bool) {
	pts, ok := basePoints[action]
	return pts, ok
}

// QualityMultiplier combines the trending/viral, upvote-ratio, new-user and
// weekend bonuses. Bonuses are independent and multiplicative.
func QualityMultiplier(ctx Context) float64 {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}

	m := 1.0

	switch {
	case ctx.PostViews >= viralViews:
		m *= 2.0
	case ctx.PostViews >= trendingViews:
		m *= 1.5
	}

	if total := ctx.Upvotes + ctx.Downvotes; total >= upvoteRatioMinimum {
		if float64(ctx.Upvotes)/float64(total) >= upvoteRatioFloor {
			m *= 1.25
		}
	}

	if !ctx.UserCreatedAt.IsZero() && now.Sub(ctx.UserCreatedAt) < newUserWindow {
		m *= 1.2
	}

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		m *= 1.1
	}

	return m
}

// GenerationDecay returns the reward multiplier for a snowball generation.
// Generation never blocks distribution; it only shrinks the reward.
func GenerationDecay(generation int) float64 {
	if generation < 1 {
		generation = 1
	}
	if generation > MaxRewardGeneration {
		return 0.10
	}
	return generationDecay[generation-1]
}
