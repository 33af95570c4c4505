package votes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opLedgerNew    = "votes.ledger.new"
	opAddVote      = "votes.add_vote"
	opRemoveVote   = "votes.remove_vote"
	opHasVoted     = "votes.has_voted"
	opTally        = "votes.tally"
	opVoters       = "votes.voters"
	opPurgeTargets = "votes.purge_targets"

	queryTargetUserDirection = "target_type = ? AND target_id = ? AND user_id = ? AND direction = ?"
	queryTarget              = "target_type = ? AND target_id = ?"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingUserID   = errors.New("user identifier is required")
	errMissingTarget   = errors.New("vote target is required")
	noOpLogger         = zap.NewNop()
)

// LedgerConfig describes the dependencies of a Ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger keeps, per target, the disjoint upvoter and downvoter sets. It has no notion of
// authorship; callers reject self votes before invoking it.
type Ledger struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, faults.Storage(opLedgerNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Ledger{db: cfg.Database, clock: clock, logger: logger}, nil
}

// HasVoted reports whether userID is a member of the direction set of target.
func (l *Ledger) HasVoted(ctx context.Context, target Target, userID string, direction Direction) (bool, error) {
	if err := validateInput(opHasVoted, target, userID); err != nil {
		return false, err
	}
	var count int64
	err := l.db.WithContext(ctx).Model(&Vote{}).
		Where(queryTargetUserDirection, target.VoteTargetType(), target.VoteTargetID(), userID, direction).
		Count(&count).Error
	if err != nil {
		l.logError(opHasVoted, "query_failed", err, target, userID)
		return false, faults.Storage(opHasVoted, "query_failed", err)
	}
	return count > 0, nil
}

// AddVote moves userID into the direction set of target. The opposite-direction membership
// is always removed; re-adding an existing vote is a no-op.
func (l *Ledger) AddVote(ctx context.Context, target Target, userID string, direction Direction) error {
	if err := validateInput(opAddVote, target, userID); err != nil {
		return err
	}
	vote := Vote{
		TargetType: target.VoteTargetType(),
		TargetID:   target.VoteTargetID(),
		UserID:     userID,
		Direction:  direction,
		CreatedAt:  l.clock().UTC(),
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where(queryTargetUserDirection, vote.TargetType, vote.TargetID, userID, direction.Opposite()).
			Delete(&Vote{}).Error; err != nil {
			l.logError(opAddVote, "opposite_delete_failed", err, target, userID)
			return faults.Storage(opAddVote, "opposite_delete_failed", err)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&vote).Error; err != nil {
			l.logError(opAddVote, "insert_failed", err, target, userID)
			return faults.Storage(opAddVote, "insert_failed", err)
		}
		return nil
	})
}

// RemoveVote drops userID from the direction set of target. Removing an absent vote is a no-op.
func (l *Ledger) RemoveVote(ctx context.Context, target Target, userID string, direction Direction) error {
	if err := validateInput(opRemoveVote, target, userID); err != nil {
		return err
	}
	err := l.db.WithContext(ctx).
		Where(queryTargetUserDirection, target.VoteTargetType(), target.VoteTargetID(), userID, direction).
		Delete(&Vote{}).Error
	if err != nil {
		l.logError(opRemoveVote, "delete_failed", err, target, userID)
		return faults.Storage(opRemoveVote, "delete_failed", err)
	}
	return nil
}

// Tally derives the vote count of target, and the membership of viewerID when provided.
func (l *Ledger) Tally(ctx context.Context, target Target, viewerID string) (Tally, error) {
	if target == nil || target.VoteTargetID() == "" {
		return Tally{}, faults.Validation(opTally, "missing_target", errMissingTarget)
	}
	tallies, err := l.Tallies(ctx, target.VoteTargetType(), []string{target.VoteTargetID()}, viewerID)
	if err != nil {
		return Tally{}, err
	}
	return tallies[target.VoteTargetID()], nil
}

// Tallies derives tallies for many targets of one type in two queries.
func (l *Ledger) Tallies(ctx context.Context, targetType TargetType, targetIDs []string, viewerID string) (map[string]Tally, error) {
	tallies := make(map[string]Tally, len(targetIDs))
	if len(targetIDs) == 0 {
		return tallies, nil
	}

	type directionCount struct {
		TargetID  string
		Direction Direction
		Total     int64
	}
	var counts []directionCount
	if err := l.db.WithContext(ctx).Model(&Vote{}).
		Select("target_id, direction, COUNT(*) AS total").
		Where("target_type = ? AND target_id IN ?", targetType, targetIDs).
		Group("target_id, direction").
		Scan(&counts).Error; err != nil {
		l.logger.Error("votes ledger error",
			zap.String("operation", opTally),
			zap.String("reason", "count_failed"),
			zap.Error(err))
		return nil, faults.Storage(opTally, "count_failed", err)
	}
	for _, count := range counts {
		tally := tallies[count.TargetID]
		if count.Direction == DirectionUp {
			tally.Upvotes = count.Total
		} else {
			tally.Downvotes = count.Total
		}
		tallies[count.TargetID] = tally
	}

	viewerID = strings.TrimSpace(viewerID)
	if viewerID == "" {
		return tallies, nil
	}
	var own []Vote
	if err := l.db.WithContext(ctx).
		Where("target_type = ? AND target_id IN ? AND user_id = ?", targetType, targetIDs, viewerID).
		Find(&own).Error; err != nil {
		l.logger.Error("votes ledger error",
			zap.String("operation", opTally),
			zap.String("reason", "viewer_lookup_failed"),
			zap.String("user_id", viewerID),
			zap.Error(err))
		return nil, faults.Storage(opTally, "viewer_lookup_failed", err)
	}
	for _, vote := range own {
		tally := tallies[vote.TargetID]
		tally.HasUpvoted = vote.Direction == DirectionUp
		tally.HasDownvoted = vote.Direction == DirectionDown
		tallies[vote.TargetID] = tally
	}
	return tallies, nil
}

// Voters lists the members of one direction set, oldest first.
func (l *Ledger) Voters(ctx context.Context, target Target, direction Direction) ([]Vote, error) {
	var voters []Vote
	if err := l.db.WithContext(ctx).
		Where(queryTarget+" AND direction = ?", target.VoteTargetType(), target.VoteTargetID(), direction).
		Order("created_at ASC").
		Find(&voters).Error; err != nil {
		return nil, faults.Storage(opVoters, "query_failed", err)
	}
	return voters, nil
}

// PurgeTargets removes both vote sets of the given targets using the caller's transaction.
func PurgeTargets(tx *gorm.DB, targetType TargetType, targetIDs []string) error {
	if len(targetIDs) == 0 {
		return nil
	}
	if err := tx.Where("target_type = ? AND target_id IN ?", targetType, targetIDs).Delete(&Vote{}).Error; err != nil {
		return faults.Storage(opPurgeTargets, "delete_failed", err)
	}
	return nil
}

func validateInput(operation string, target Target, userID string) error {
	if target == nil || target.VoteTargetID() == "" {
		return faults.Validation(operation, "missing_target", errMissingTarget)
	}
	if strings.TrimSpace(userID) == "" {
		return faults.Validation(operation, "missing_user_id", errMissingUserID)
	}
	return nil
}

func (l *Ledger) logError(operation, reason string, err error, target Target, userID string) {
	l.logger.Error("votes ledger error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("target_type", string(target.VoteTargetType())),
		zap.String("target_id", target.VoteTargetID()),
		zap.String("user_id", userID),
		zap.Error(err))
}
