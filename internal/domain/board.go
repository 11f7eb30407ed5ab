package domain

import "time"

// Board is the dream board being crowdfunded. The payments core only touches
// its funded flag; everything else about boards lives outside this service.
type Board struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	GoalCents int64      `json:"goal_cents"`
	Funded    bool       `json:"funded"`
	FundedAt  *time.Time `json:"funded_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
