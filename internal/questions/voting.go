package questions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"github.com/MarcoPoloResearchLab/qna/internal/notifications"
	"github.com/MarcoPoloResearchLab/qna/internal/votes"
	"go.uber.org/zap"
)

const (
	opVoteQuestion   = "questions.vote_question"
	opUnvoteQuestion = "questions.unvote_question"
	opVoteAnswer     = "questions.vote_answer"
	opUnvoteAnswer   = "questions.unvote_answer"

	actionAdd    = "add"
	actionRemove = "remove"
)

var errSelfVote = errors.New("authors cannot vote on their own content")

// VoteQuestion records actorID's vote on a question.
func (s *Service) VoteQuestion(ctx context.Context, questionID, actorID string, direction votes.Direction) (VoteState, error) {
	question, err := s.loadQuestion(ctx, s.db, opVoteQuestion, questionID)
	if err != nil {
		return VoteState{}, err
	}
	return s.castVote(ctx, opVoteQuestion, question, question.AuthorID, actorID, direction, notifications.VoteCast{
		QuestionID:     question.ID,
		QuestionTitle:  question.Title,
		TargetAuthorID: question.AuthorID,
	})
}

// UnvoteQuestion withdraws actorID's vote on a question.
func (s *Service) UnvoteQuestion(ctx context.Context, questionID, actorID string, direction votes.Direction) (VoteState, error) {
	question, err := s.loadQuestion(ctx, s.db, opUnvoteQuestion, questionID)
	if err != nil {
		return VoteState{}, err
	}
	return s.withdrawVote(ctx, question, actorID, direction)
}

// VoteAnswer records actorID's vote on an answer.
func (s *Service) VoteAnswer(ctx context.Context, answerID, actorID string, direction votes.Direction) (VoteState, error) {
	answer, err := s.loadAnswer(ctx, s.db, opVoteAnswer, answerID)
	if err != nil {
		return VoteState{}, err
	}
	question, err := s.loadQuestion(ctx, s.db, opVoteAnswer, answer.QuestionID)
	if err != nil {
		return VoteState{}, err
	}
	return s.castVote(ctx, opVoteAnswer, answer, answer.AuthorID, actorID, direction, notifications.VoteCast{
		QuestionID:     question.ID,
		QuestionTitle:  question.Title,
		AnswerID:       answer.ID,
		TargetAuthorID: answer.AuthorID,
	})
}

// UnvoteAnswer withdraws actorID's vote on an answer.
func (s *Service) UnvoteAnswer(ctx context.Context, answerID, actorID string, direction votes.Direction) (VoteState, error) {
	answer, err := s.loadAnswer(ctx, s.db, opUnvoteAnswer, answerID)
	if err != nil {
		return VoteState{}, err
	}
	return s.withdrawVote(ctx, answer, actorID, direction)
}

// castVote rejects self votes, moves the actor into the direction set and notifies the
// target author when the actor was not already in that set.
func (s *Service) castVote(ctx context.Context, operation string, target votes.Target, authorID, actorID string, direction votes.Direction, event notifications.VoteCast) (VoteState, error) {
	if actorID == authorID {
		return VoteState{}, faults.Forbidden(operation, "self_vote", errSelfVote)
	}
	already, err := s.ledger.HasVoted(ctx, target, actorID, direction)
	if err != nil {
		return VoteState{}, err
	}
	if err := s.ledger.AddVote(ctx, target, actorID, direction); err != nil {
		return VoteState{}, err
	}
	s.recordVote(target.VoteTargetType(), direction, actionAdd)

	if !already {
		event.VoterID = actorID
		event.VoterName = s.displayName(ctx, actorID)
		event.VoteType = direction.String()
		if _, err := s.notifier.VoteCast(ctx, event); err != nil {
			s.logError(operation, "notification_failed", err,
				zap.String("target_id", target.VoteTargetID()),
				zap.String("user_id", actorID))
			return VoteState{}, err
		}
	}

	tally, err := s.ledger.Tally(ctx, target, actorID)
	if err != nil {
		return VoteState{}, err
	}
	return voteStateOf(tally), nil
}

func (s *Service) withdrawVote(ctx context.Context, target votes.Target, actorID string, direction votes.Direction) (VoteState, error) {
	if err := s.ledger.RemoveVote(ctx, target, actorID, direction); err != nil {
		return VoteState{}, err
	}
	s.recordVote(target.VoteTargetType(), direction, actionRemove)

	tally, err := s.ledger.Tally(ctx, target, actorID)
	if err != nil {
		return VoteState{}, err
	}
	return voteStateOf(tally), nil
}
