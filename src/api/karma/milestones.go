package karma

// Milestone tiers and the features they unlock. Milestones are derived from
// the live total on every read and never persisted.
type Milestone struct {
	Name        string
	Threshold   int64
	VotingPower float64
	Unlocks     []string
}

// Feature unlock names
const (
	UnlockSnowball   = "snowball"
	UnlockCsvUpload  = "csv_upload"
	UnlockModeration = "moderation"
	UnlockAPIBoost   = "api_boost"
)

// Sorted descending by threshold; the zero-threshold tier is the default.
var milestones = []Milestone{
	{Name: "Legend", Threshold: 5000, VotingPower: 3.0, Unlocks: []string{UnlockSnowball, UnlockCsvUpload, UnlockModeration, UnlockAPIBoost}},
	{Name: "Veteran", Threshold: 1500, VotingPower: 2.0, Unlocks: []string{UnlockSnowball, UnlockCsvUpload, UnlockModeration}},
	{Name: "Regular", Threshold: 500, VotingPower: 1.5, Unlocks: []string{UnlockSnowball, UnlockCsvUpload}},
	{Name: "Contributor", Threshold: 100, VotingPower: 1.2, Unlocks: []string{UnlockSnowball}},
	{Name: "Newcomer", Threshold: 0, VotingPower: 1.0},
}

// ForTotal returns the highest tier whose threshold the total meets.
func ForTotal(total int64) Milestone {
	for _, m := range milestones {
		if total >= m.Threshold {
			return m
		}
	}
	return milestones[len(milestones)-1]
}

func (m Milestone) HasUnlock(name string) bool {
	for _, u := range m.Unlocks {
		if u == name {
			return true
		}
	}
	return false
}
