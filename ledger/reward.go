package ledger

import "math"

// earlyWeeks pays straight hourly rates before the flat-base formula starts.
const earlyWeeks = 4

// RewardInput carries everything the payout formula reads.
type RewardInput struct {
	Week int
	// OwnerOut marks owners who left the event; they stay on the hourly rate.
	OwnerOut bool
	Hours    float64
	// GoalHours is the owner's effective hour goal for the week.
	GoalHours float64
	// VoteScore is the average star count across cast votes; floored at 1.
	VoteScore float64
	// Multiplier is the reviewer-assigned payout multiplier.
	Multiplier float64
}

// ComputeReward returns the coin value for a finished project. Weeks one
// through four and departed owners earn per-hour; later weeks earn a flat
// base plus per-hour pay on time beyond the goal.
func ComputeReward(in RewardInput) int64 {
	if in.Hours <= 0 {
		return 0
	}
	v := in.VoteScore
	if v < 1 {
		v = 1
	}
	m := in.Multiplier
	if m <= 0 {
		m = 2.0
	}
	if in.Week <= earlyWeeks || in.OwnerOut {
		return int64(math.Round(in.Hours * 2 * m * v))
	}
	overtime := math.Max(in.Hours-in.GoalHours, 0)
	return int64(math.Round(5*m*v + overtime*m*v))
}
