package votes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TargetType names the kind of entity carrying a vote ledger.
type TargetType string

const (
	TargetQuestion TargetType = "question"
	TargetAnswer   TargetType = "answer"
)

// Direction is the vote direction.
type Direction string

const (
	DirectionUp   Direction = "upvote"
	DirectionDown Direction = "downvote"
)

// ErrInvalidDirection indicates a vote type outside {"upvote","downvote"}.
var ErrInvalidDirection = errors.New("votes: invalid direction")

// ParseDirection validates raw input against the supported vote types.
func ParseDirection(rawInput string) (Direction, error) {
	switch Direction(strings.TrimSpace(rawInput)) {
	case DirectionUp:
		return DirectionUp, nil
	case DirectionDown:
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, rawInput)
	}
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

func (d Direction) String() string {
	return string(d)
}

// Target is any entity that owns a two-set vote ledger.
type Target interface {
	VoteTargetType() TargetType
	VoteTargetID() string
}

// Vote is one member of a target's upvoter or downvoter set. The composite primary key
// keeps a user in at most one of the two sets.
type Vote struct {
	TargetType TargetType `gorm:"column:target_type;primaryKey;size:16;not null"`
	TargetID   string     `gorm:"column:target_id;primaryKey;size:190;not null"`
	UserID     string     `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Direction  Direction  `gorm:"column:direction;size:16;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Vote) TableName() string {
	return "votes"
}

// Tally is the derived view of a ledger for one viewer.
type Tally struct {
	Upvotes      int64
	Downvotes    int64
	HasUpvoted   bool
	HasDownvoted bool
}

// Count returns |upvotes| - |downvotes|.
func (t Tally) Count() int64 {
	return t.Upvotes - t.Downvotes
}
