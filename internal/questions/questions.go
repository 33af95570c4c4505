package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/qna/internal/content"
	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"github.com/MarcoPoloResearchLab/qna/internal/tags"
	"github.com/MarcoPoloResearchLab/qna/internal/votes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateQuestion = "questions.create_question"
	opGetQuestion    = "questions.get_question"
	opListQuestions  = "questions.list_questions"
	opUpdateQuestion = "questions.update_question"
	opDeleteQuestion = "questions.delete_question"

	defaultPageLimit = 20
	maxPageLimit     = 100

	voteScoreExpression = "(SELECT COALESCE(SUM(CASE WHEN votes.direction = 'upvote' THEN 1 ELSE -1 END), 0) " +
		"FROM votes WHERE votes.target_type = 'question' AND votes.target_id = questions.id)"
)

var (
	errMissingAuthor  = errors.New("author identifier is required")
	errNotAuthor      = errors.New("only the author may modify this entry")
	errTitleLength    = errors.New("title length is out of bounds")
	errBodyLength     = errors.New("description is too short")
	errUnknownSort    = errors.New("unknown sort order")
	errNothingToApply = errors.New("no fields to update")
)

// Sort orders question listings.
type Sort string

const (
	SortNewest     Sort = "newest"
	SortVotes      Sort = "votes"
	SortUnanswered Sort = "unanswered"
)

// ParseSort validates raw input; an empty value selects SortNewest.
func ParseSort(rawInput string) (Sort, error) {
	switch sort := Sort(strings.ToLower(strings.TrimSpace(rawInput))); sort {
	case "":
		return SortNewest, nil
	case SortNewest, SortVotes, SortUnanswered:
		return sort, nil
	default:
		return "", faults.Validation(opListQuestions, "unknown_sort", fmt.Errorf("%w: %q", errUnknownSort, rawInput))
	}
}

// QuestionInput carries the fields of a new question.
type QuestionInput struct {
	AuthorID    string
	Title       string
	Description string
	Tags        []string
}

// QuestionUpdate carries optional replacements; nil fields are left unchanged.
type QuestionUpdate struct {
	Title       *string
	Description *string
	Tags        *[]string
	Status      *Status
}

// ListFilter narrows a question listing.
type ListFilter struct {
	Tag      string
	Search   string
	Sort     Sort
	Page     int
	Limit    int
	ViewerID string
}

// ListResult is one page of questions.
type ListResult struct {
	Questions []QuestionView `json:"questions"`
	Total     int64          `json:"total"`
	Page      int            `json:"page"`
	Limit     int            `json:"limit"`
}

// CreateQuestion stores a new open question and accounts its tags.
func (s *Service) CreateQuestion(ctx context.Context, input QuestionInput) (QuestionView, error) {
	authorID := strings.TrimSpace(input.AuthorID)
	if authorID == "" {
		return QuestionView{}, faults.Validation(opCreateQuestion, "missing_author", errMissingAuthor)
	}
	title := strings.TrimSpace(input.Title)
	if err := s.validateTitle(opCreateQuestion, title); err != nil {
		return QuestionView{}, err
	}
	if err := s.validateDescription(opCreateQuestion, input.Description); err != nil {
		return QuestionView{}, err
	}
	tagNames, err := tags.Normalize(input.Tags)
	if err != nil {
		return QuestionView{}, err
	}
	id, err := s.newID(opCreateQuestion)
	if err != nil {
		return QuestionView{}, err
	}

	now := s.now()
	question := Question{
		ID:           id,
		Title:        title,
		Description:  input.Description,
		AuthorID:     authorID,
		Status:       StatusOpen,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&question).Error; err != nil {
			s.logError(opCreateQuestion, "insert_failed", err, zap.String("author_id", authorID))
			return faults.Storage(opCreateQuestion, "insert_failed", err)
		}
		return attachTags(tx, question.ID, tagNames)
	})
	if err != nil {
		return QuestionView{}, err
	}
	question.Tags = tagNames

	return QuestionView{
		Question:        question,
		DescriptionHTML: s.renderer.HTML(question.Description),
	}, nil
}

// GetQuestion loads a question, counts the view and derives the viewer's vote state.
func (s *Service) GetQuestion(ctx context.Context, questionID, viewerID string) (QuestionView, error) {
	result := s.db.WithContext(ctx).Model(&Question{}).
		Where("id = ?", questionID).
		UpdateColumn("views", gorm.Expr("views + ?", 1))
	if result.Error != nil {
		s.logError(opGetQuestion, "view_increment_failed", result.Error, zap.String("question_id", questionID))
		return QuestionView{}, faults.Storage(opGetQuestion, "view_increment_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return QuestionView{}, faults.NotFound(opGetQuestion, "question_missing", gorm.ErrRecordNotFound)
	}

	question, err := s.loadQuestion(ctx, s.db, opGetQuestion, questionID)
	if err != nil {
		return QuestionView{}, err
	}
	views, err := s.questionViews(ctx, opGetQuestion, []Question{question}, viewerID)
	if err != nil {
		return QuestionView{}, err
	}
	view := views[0]
	view.DescriptionHTML = s.renderer.HTML(question.Description)
	return view, nil
}

// ListQuestions returns one page of questions matching filter.
func (s *Service) ListQuestions(ctx context.Context, filter ListFilter) (ListResult, error) {
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	sort := filter.Sort
	if sort == "" {
		sort = SortNewest
	}

	scoped := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&Question{})
		if tag := strings.ToLower(strings.TrimSpace(filter.Tag)); tag != "" {
			query = query.Where("id IN (SELECT question_id FROM question_tags WHERE tag_name = ?)", tag)
		}
		if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
			pattern := "%" + search + "%"
			query = query.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", pattern, pattern)
		}
		if sort == SortUnanswered {
			query = query.Where("NOT EXISTS (SELECT 1 FROM answers WHERE answers.question_id = questions.id)")
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		s.logError(opListQuestions, "count_failed", err)
		return ListResult{}, faults.Storage(opListQuestions, "count_failed", err)
	}

	query := scoped()
	switch sort {
	case SortVotes:
		query = query.Order(voteScoreExpression + " DESC").Order("created_at DESC")
	default:
		query = query.Order("created_at DESC")
	}
	var found []Question
	if err := query.Order("id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&found).Error; err != nil {
		s.logError(opListQuestions, "query_failed", err)
		return ListResult{}, faults.Storage(opListQuestions, "query_failed", err)
	}

	views, err := s.questionViews(ctx, opListQuestions, found, filter.ViewerID)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Questions: views, Total: total, Page: page, Limit: limit}, nil
}

// UpdateQuestion applies the author's edits and re-accounts changed tags.
func (s *Service) UpdateQuestion(ctx context.Context, questionID, actorID string, update QuestionUpdate) (QuestionView, error) {
	updates := map[string]interface{}{}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if err := s.validateTitle(opUpdateQuestion, title); err != nil {
			return QuestionView{}, err
		}
		updates["title"] = title
	}
	if update.Description != nil {
		if err := s.validateDescription(opUpdateQuestion, *update.Description); err != nil {
			return QuestionView{}, err
		}
		updates["description"] = *update.Description
	}
	if update.Status != nil {
		status, err := ParseStatus(string(*update.Status))
		if err != nil {
			return QuestionView{}, faults.Validation(opUpdateQuestion, "invalid_status", err)
		}
		updates["status"] = status
	}
	var nextTags []string
	if update.Tags != nil {
		normalized, err := tags.Normalize(*update.Tags)
		if err != nil {
			return QuestionView{}, err
		}
		nextTags = normalized
	}
	if len(updates) == 0 && update.Tags == nil {
		return QuestionView{}, faults.Validation(opUpdateQuestion, "empty_update", errNothingToApply)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := s.loadQuestion(ctx, tx, opUpdateQuestion, questionID)
		if err != nil {
			return err
		}
		if question.AuthorID != actorID {
			return faults.Forbidden(opUpdateQuestion, "not_question_author", errNotAuthor)
		}
		if update.Tags != nil {
			current, err := loadTagNames(tx, []string{questionID})
			if err != nil {
				return err
			}
			if err := retag(tx, questionID, current[questionID], nextTags); err != nil {
				return err
			}
		}
		now := s.now()
		updates["updated_at"] = now
		updates["last_activity"] = now
		if err := tx.Model(&Question{}).Where("id = ?", questionID).Updates(updates).Error; err != nil {
			s.logError(opUpdateQuestion, "update_failed", err, zap.String("question_id", questionID))
			return faults.Storage(opUpdateQuestion, "update_failed", err)
		}
		return nil
	})
	if err != nil {
		return QuestionView{}, err
	}

	question, err := s.loadQuestion(ctx, s.db, opUpdateQuestion, questionID)
	if err != nil {
		return QuestionView{}, err
	}
	views, err := s.questionViews(ctx, opUpdateQuestion, []Question{question}, actorID)
	if err != nil {
		return QuestionView{}, err
	}
	view := views[0]
	view.DescriptionHTML = s.renderer.HTML(question.Description)
	return view, nil
}

// DeleteQuestion removes a question with its answers, their edits, comments and votes, and
// releases its tags.
func (s *Service) DeleteQuestion(ctx context.Context, questionID, actorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := s.loadQuestion(ctx, tx, opDeleteQuestion, questionID)
		if err != nil {
			return err
		}
		if question.AuthorID != actorID {
			return faults.Forbidden(opDeleteQuestion, "not_question_author", errNotAuthor)
		}

		var answerIDs []string
		if err := tx.Model(&Answer{}).Where("question_id = ?", questionID).Pluck("id", &answerIDs).Error; err != nil {
			s.logError(opDeleteQuestion, "answer_select_failed", err, zap.String("question_id", questionID))
			return faults.Storage(opDeleteQuestion, "answer_select_failed", err)
		}
		if err := purgeAnswers(tx, answerIDs); err != nil {
			s.logError(opDeleteQuestion, "answer_purge_failed", err, zap.String("question_id", questionID))
			return err
		}
		if err := votes.PurgeTargets(tx, votes.TargetQuestion, []string{questionID}); err != nil {
			return err
		}

		current, err := loadTagNames(tx, []string{questionID})
		if err != nil {
			return err
		}
		if err := retag(tx, questionID, current[questionID], nil); err != nil {
			return err
		}
		if err := tx.Where("id = ?", questionID).Delete(&Question{}).Error; err != nil {
			s.logError(opDeleteQuestion, "delete_failed", err, zap.String("question_id", questionID))
			return faults.Storage(opDeleteQuestion, "delete_failed", err)
		}
		return nil
	})
}

func (s *Service) validateTitle(operation, title string) error {
	length := content.Length(title)
	if length < s.limits.MinTitleLength || length > maxTitleLength {
		return faults.Validation(operation, "title_length",
			fmt.Errorf("%w: %d not in [%d, %d]", errTitleLength, length, s.limits.MinTitleLength, maxTitleLength))
	}
	return nil
}

func (s *Service) validateDescription(operation, description string) error {
	if length := content.Length(description); length < s.limits.MinDescriptionLength {
		return faults.Validation(operation, "description_too_short",
			fmt.Errorf("%w: %d < %d", errBodyLength, length, s.limits.MinDescriptionLength))
	}
	return nil
}

// questionViews attaches tags, vote tallies and answer counts to questions, preserving order.
func (s *Service) questionViews(ctx context.Context, operation string, questions []Question, viewerID string) ([]QuestionView, error) {
	views := make([]QuestionView, 0, len(questions))
	if len(questions) == 0 {
		return views, nil
	}
	questionIDs := make([]string, 0, len(questions))
	for _, question := range questions {
		questionIDs = append(questionIDs, question.ID)
	}

	tagNames, err := loadTagNames(s.db.WithContext(ctx), questionIDs)
	if err != nil {
		return nil, err
	}
	tallies, err := s.ledger.Tallies(ctx, votes.TargetQuestion, questionIDs, viewerID)
	if err != nil {
		return nil, err
	}

	type answerCount struct {
		QuestionID string
		Total      int64
	}
	var counts []answerCount
	if err := s.db.WithContext(ctx).Model(&Answer{}).
		Select("question_id, COUNT(*) AS total").
		Where("question_id IN ?", questionIDs).
		Group("question_id").
		Scan(&counts).Error; err != nil {
		s.logError(operation, "answer_count_failed", err)
		return nil, faults.Storage(operation, "answer_count_failed", err)
	}
	answersByQuestion := make(map[string]int64, len(counts))
	for _, count := range counts {
		answersByQuestion[count.QuestionID] = count.Total
	}

	for _, question := range questions {
		question.Tags = tagNames[question.ID]
		if question.Tags == nil {
			question.Tags = []string{}
		}
		views = append(views, QuestionView{
			Question:    question,
			VoteState:   voteStateOf(tallies[question.ID]),
			AnswerCount: answersByQuestion[question.ID],
		})
	}
	return views, nil
}

func attachTags(tx *gorm.DB, questionID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	links := make([]QuestionTag, 0, len(names))
	for position, name := range names {
		links = append(links, QuestionTag{QuestionID: questionID, TagName: name, Position: position})
	}
	if err := tags.Acquire(tx, names); err != nil {
		return err
	}
	if err := tx.Create(&links).Error; err != nil {
		return faults.Storage(opCreateQuestion, "tag_link_failed", err)
	}
	return nil
}

// retag replaces the tag links of a question and moves usage counters accordingly.
func retag(tx *gorm.DB, questionID string, previous, next []string) error {
	added, removed := tags.Diff(previous, next)
	if err := tags.Release(tx, removed); err != nil {
		return err
	}
	if err := tags.Acquire(tx, added); err != nil {
		return err
	}
	if err := tx.Where("question_id = ?", questionID).Delete(&QuestionTag{}).Error; err != nil {
		return faults.Storage(opUpdateQuestion, "tag_unlink_failed", err)
	}
	if len(next) == 0 {
		return nil
	}
	links := make([]QuestionTag, 0, len(next))
	for position, name := range next {
		links = append(links, QuestionTag{QuestionID: questionID, TagName: name, Position: position})
	}
	if err := tx.Create(&links).Error; err != nil {
		return faults.Storage(opUpdateQuestion, "tag_link_failed", err)
	}
	return nil
}

func loadTagNames(db *gorm.DB, questionIDs []string) (map[string][]string, error) {
	var links []QuestionTag
	if err := db.Where("question_id IN ?", questionIDs).
		Order("question_id ASC, position ASC").
		Find(&links).Error; err != nil {
		return nil, faults.Storage("questions.load_tags", "query_failed", err)
	}
	byQuestion := make(map[string][]string, len(questionIDs))
	for _, link := range links {
		byQuestion[link.QuestionID] = append(byQuestion[link.QuestionID], link.TagName)
	}
	return byQuestion, nil
}
