package questions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/qna/internal/content"
	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"github.com/MarcoPoloResearchLab/qna/internal/notifications"
	"github.com/MarcoPoloResearchLab/qna/internal/votes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateAnswer = "questions.create_answer"
	opListAnswers  = "questions.list_answers"
	opUpdateAnswer = "questions.update_answer"
	opDeleteAnswer = "questions.delete_answer"
	opAddComment   = "questions.add_comment"
)

var (
	errDuplicateAnswer = errors.New("user already answered this question")
	errAnswerLength    = errors.New("answer is too short")
	errCommentLength   = errors.New("comment length is out of bounds")
)

// CreateAnswer posts authorID's answer to a question and notifies the question author.
func (s *Service) CreateAnswer(ctx context.Context, questionID, authorID, body string) (AnswerView, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return AnswerView{}, faults.Validation(opCreateAnswer, "missing_author", errMissingAuthor)
	}
	if length := content.Length(body); length < s.limits.MinAnswerLength {
		return AnswerView{}, faults.Validation(opCreateAnswer, "content_too_short",
			fmt.Errorf("%w: %d < %d", errAnswerLength, length, s.limits.MinAnswerLength))
	}
	id, err := s.newID(opCreateAnswer)
	if err != nil {
		return AnswerView{}, err
	}
	authorName := s.displayName(ctx, authorID)

	now := s.now()
	answer := Answer{
		ID:         id,
		QuestionID: questionID,
		AuthorID:   authorID,
		Content:    body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var notification *notifications.Notification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := s.loadQuestion(ctx, tx, opCreateAnswer, questionID)
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&Answer{}).
			Where("question_id = ? AND author_id = ?", questionID, authorID).
			Count(&existing).Error; err != nil {
			s.logError(opCreateAnswer, "duplicate_check_failed", err, zap.String("question_id", questionID))
			return faults.Storage(opCreateAnswer, "duplicate_check_failed", err)
		}
		if existing > 0 {
			return faults.Conflict(opCreateAnswer, "duplicate_answer", errDuplicateAnswer)
		}

		if err := tx.Create(&answer).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return faults.Conflict(opCreateAnswer, "duplicate_answer", errDuplicateAnswer)
			}
			s.logError(opCreateAnswer, "insert_failed", err, zap.String("question_id", questionID))
			return faults.Storage(opCreateAnswer, "insert_failed", err)
		}
		if err := tx.Model(&Question{}).Where("id = ?", questionID).
			UpdateColumn("last_activity", now).Error; err != nil {
			s.logError(opCreateAnswer, "activity_update_failed", err, zap.String("question_id", questionID))
			return faults.Storage(opCreateAnswer, "activity_update_failed", err)
		}

		notification, err = s.notifier.AnswerCreatedTx(tx, notifications.AnswerCreated{
			QuestionID:       question.ID,
			QuestionTitle:    question.Title,
			QuestionAuthorID: question.AuthorID,
			AnswerID:         answer.ID,
			AnswerAuthorID:   authorID,
			AnswerAuthorName: authorName,
			AnswerContent:    body,
		})
		return err
	})
	if err != nil {
		return AnswerView{}, err
	}
	s.notifier.Announce(notification)

	answer.EditHistory = []AnswerEdit{}
	answer.Comments = []AnswerComment{}
	return AnswerView{Answer: answer, ContentHTML: s.renderer.HTML(answer.Content)}, nil
}

// ListAnswers returns the answers of a question: the accepted answer first, then by vote
// count descending, then oldest first.
func (s *Service) ListAnswers(ctx context.Context, questionID, viewerID string) ([]AnswerView, error) {
	if _, err := s.loadQuestion(ctx, s.db, opListAnswers, questionID); err != nil {
		return nil, err
	}

	var answers []Answer
	if err := s.db.WithContext(ctx).
		Preload("EditHistory", func(db *gorm.DB) *gorm.DB { return db.Order("edited_at ASC") }).
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("question_id = ?", questionID).
		Order("created_at ASC, id ASC").
		Find(&answers).Error; err != nil {
		s.logError(opListAnswers, "query_failed", err, zap.String("question_id", questionID))
		return nil, faults.Storage(opListAnswers, "query_failed", err)
	}

	answerIDs := make([]string, 0, len(answers))
	for _, answer := range answers {
		answerIDs = append(answerIDs, answer.ID)
	}
	tallies, err := s.ledger.Tallies(ctx, votes.TargetAnswer, answerIDs, viewerID)
	if err != nil {
		return nil, err
	}

	views := make([]AnswerView, 0, len(answers))
	for _, answer := range answers {
		views = append(views, AnswerView{
			Answer:      answer,
			VoteState:   voteStateOf(tallies[answer.ID]),
			ContentHTML: s.renderer.HTML(answer.Content),
		})
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].IsAccepted != views[j].IsAccepted {
			return views[i].IsAccepted
		}
		return views[i].VoteCount > views[j].VoteCount
	})
	return views, nil
}

// UpdateAnswer replaces the answer content, keeping the previous content in its edit history.
func (s *Service) UpdateAnswer(ctx context.Context, answerID, actorID, body string) (AnswerView, error) {
	if length := content.Length(body); length < s.limits.MinAnswerLength {
		return AnswerView{}, faults.Validation(opUpdateAnswer, "content_too_short",
			fmt.Errorf("%w: %d < %d", errAnswerLength, length, s.limits.MinAnswerLength))
	}
	editID, err := s.newID(opUpdateAnswer)
	if err != nil {
		return AnswerView{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		answer, err := s.loadAnswer(ctx, tx, opUpdateAnswer, answerID)
		if err != nil {
			return err
		}
		if answer.AuthorID != actorID {
			return faults.Forbidden(opUpdateAnswer, "not_answer_author", errNotAuthor)
		}
		now := s.now()
		edit := AnswerEdit{
			ID:       editID,
			AnswerID: answer.ID,
			Content:  answer.Content,
			EditorID: actorID,
			EditedAt: now,
		}
		if err := tx.Create(&edit).Error; err != nil {
			s.logError(opUpdateAnswer, "history_insert_failed", err, zap.String("answer_id", answerID))
			return faults.Storage(opUpdateAnswer, "history_insert_failed", err)
		}
		if err := tx.Model(&Answer{}).Where("id = ?", answer.ID).Updates(map[string]interface{}{
			"content":    body,
			"is_edited":  true,
			"updated_at": now,
		}).Error; err != nil {
			s.logError(opUpdateAnswer, "update_failed", err, zap.String("answer_id", answerID))
			return faults.Storage(opUpdateAnswer, "update_failed", err)
		}
		return nil
	})
	if err != nil {
		return AnswerView{}, err
	}
	return s.answerView(ctx, opUpdateAnswer, answerID, actorID)
}

// DeleteAnswer removes the author's answer with its edits, comments and votes. The parent
// question keeps its accepted flag.
func (s *Service) DeleteAnswer(ctx context.Context, answerID, actorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		answer, err := s.loadAnswer(ctx, tx, opDeleteAnswer, answerID)
		if err != nil {
			return err
		}
		if answer.AuthorID != actorID {
			return faults.Forbidden(opDeleteAnswer, "not_answer_author", errNotAuthor)
		}
		if err := purgeAnswers(tx, []string{answer.ID}); err != nil {
			s.logError(opDeleteAnswer, "purge_failed", err, zap.String("answer_id", answerID))
			return err
		}
		return nil
	})
}

// AddComment appends a comment to an answer and notifies the answer author.
func (s *Service) AddComment(ctx context.Context, answerID, authorID, body string) (AnswerComment, error) {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return AnswerComment{}, faults.Validation(opAddComment, "missing_author", errMissingAuthor)
	}
	body = strings.TrimSpace(body)
	if length := content.Length(body); length == 0 || length > maxCommentLength {
		return AnswerComment{}, faults.Validation(opAddComment, "content_length",
			fmt.Errorf("%w: %d not in [1, %d]", errCommentLength, length, maxCommentLength))
	}
	id, err := s.newID(opAddComment)
	if err != nil {
		return AnswerComment{}, err
	}
	authorName := s.displayName(ctx, authorID)

	comment := AnswerComment{
		ID:        id,
		AnswerID:  answerID,
		AuthorID:  authorID,
		Content:   body,
		CreatedAt: s.now(),
	}
	var notification *notifications.Notification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		answer, err := s.loadAnswer(ctx, tx, opAddComment, answerID)
		if err != nil {
			return err
		}
		question, err := s.loadQuestion(ctx, tx, opAddComment, answer.QuestionID)
		if err != nil {
			return err
		}
		if err := tx.Create(&comment).Error; err != nil {
			s.logError(opAddComment, "insert_failed", err, zap.String("answer_id", answerID))
			return faults.Storage(opAddComment, "insert_failed", err)
		}
		notification, err = s.notifier.CommentAddedTx(tx, notifications.CommentAdded{
			QuestionID:     question.ID,
			QuestionTitle:  question.Title,
			AnswerID:       answer.ID,
			AnswerAuthorID: answer.AuthorID,
			CommenterID:    authorID,
			CommenterName:  authorName,
			CommentContent: body,
		})
		return err
	})
	if err != nil {
		return AnswerComment{}, err
	}
	s.notifier.Announce(notification)
	return comment, nil
}

func (s *Service) answerView(ctx context.Context, operation, answerID, viewerID string) (AnswerView, error) {
	var answer Answer
	err := s.db.WithContext(ctx).
		Preload("EditHistory", func(db *gorm.DB) *gorm.DB { return db.Order("edited_at ASC") }).
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", answerID).
		Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AnswerView{}, faults.NotFound(operation, "answer_missing", err)
	}
	if err != nil {
		s.logError(operation, "answer_select_failed", err, zap.String("answer_id", answerID))
		return AnswerView{}, faults.Storage(operation, "answer_select_failed", err)
	}
	tally, err := s.ledger.Tally(ctx, answer, viewerID)
	if err != nil {
		return AnswerView{}, err
	}
	return AnswerView{
		Answer:      answer,
		VoteState:   voteStateOf(tally),
		ContentHTML: s.renderer.HTML(answer.Content),
	}, nil
}

// purgeAnswers deletes answers and everything hanging off them inside tx.
func purgeAnswers(tx *gorm.DB, answerIDs []string) error {
	if len(answerIDs) == 0 {
		return nil
	}
	if err := tx.Where("answer_id IN ?", answerIDs).Delete(&AnswerEdit{}).Error; err != nil {
		return faults.Storage("questions.purge_answers", "edit_delete_failed", err)
	}
	if err := tx.Where("answer_id IN ?", answerIDs).Delete(&AnswerComment{}).Error; err != nil {
		return faults.Storage("questions.purge_answers", "comment_delete_failed", err)
	}
	if err := votes.PurgeTargets(tx, votes.TargetAnswer, answerIDs); err != nil {
		return err
	}
	if err := tx.Where("id IN ?", answerIDs).Delete(&Answer{}).Error; err != nil {
		return faults.Storage("questions.purge_answers", "answer_delete_failed", err)
	}
	return nil
}
