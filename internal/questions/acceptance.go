package questions

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const opAcceptAnswer = "questions.accept_answer"

var errNotQuestionAuthor = errors.New("only the question author may accept an answer")

// AcceptAnswer marks answerID as the accepted answer of its question. Every other answer of
// the question is unset and the question is flagged accepted, all in one transaction that
// holds the question row lock. There is no way to revoke acceptance.
func (s *Service) AcceptAnswer(ctx context.Context, answerID, actorID string) (AnswerView, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		answer, err := s.loadAnswer(ctx, tx, opAcceptAnswer, answerID)
		if err != nil {
			return err
		}

		var question Question
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", answer.QuestionID).
			Take(&question).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return faults.NotFound(opAcceptAnswer, "question_missing", err)
		}
		if err != nil {
			s.logError(opAcceptAnswer, "question_lock_failed", err, zap.String("answer_id", answerID))
			return faults.Storage(opAcceptAnswer, "question_lock_failed", err)
		}
		if question.AuthorID != actorID {
			return faults.Forbidden(opAcceptAnswer, "not_question_author", errNotQuestionAuthor)
		}

		if err := tx.Model(&Answer{}).
			Where("question_id = ? AND id <> ? AND is_accepted = ?", question.ID, answer.ID, true).
			UpdateColumn("is_accepted", false).Error; err != nil {
			s.logError(opAcceptAnswer, "unset_others_failed", err, zap.String("question_id", question.ID))
			return faults.Storage(opAcceptAnswer, "unset_others_failed", err)
		}
		if err := tx.Model(&Answer{}).
			Where("id = ?", answer.ID).
			UpdateColumn("is_accepted", true).Error; err != nil {
			s.logError(opAcceptAnswer, "set_target_failed", err, zap.String("answer_id", answerID))
			return faults.Storage(opAcceptAnswer, "set_target_failed", err)
		}
		if err := tx.Model(&Question{}).
			Where("id = ?", question.ID).
			UpdateColumn("is_accepted", true).Error; err != nil {
			s.logError(opAcceptAnswer, "set_question_failed", err, zap.String("question_id", question.ID))
			return faults.Storage(opAcceptAnswer, "set_question_failed", err)
		}
		return nil
	})
	if err != nil {
		return AnswerView{}, err
	}
	if s.recorder != nil {
		s.recorder.AnswerAccepted()
	}
	return s.answerView(ctx, opAcceptAnswer, answerID, actorID)
}
