package questions

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/votes"
)

// Status is the moderation state of a question.
type Status string

const (
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusDuplicate Status = "duplicate"
	StatusOffTopic  Status = "off-topic"
)

// ErrInvalidStatus indicates a status outside the supported set.
var ErrInvalidStatus = errors.New("questions: invalid status")

// ParseStatus validates raw input against the supported statuses.
func ParseStatus(rawInput string) (Status, error) {
	switch status := Status(strings.ToLower(strings.TrimSpace(rawInput))); status {
	case StatusOpen, StatusClosed, StatusDuplicate, StatusOffTopic:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, rawInput)
	}
}

// Question is a titled request for help. Its vote sets live in the votes ledger.
type Question struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Title        string    `gorm:"column:title;size:200;not null" json:"title"`
	Description  string    `gorm:"column:description;type:text;not null" json:"description"`
	AuthorID     string    `gorm:"column:author_id;size:190;not null;index" json:"author"`
	Views        int64     `gorm:"column:views;not null;default:0" json:"views"`
	IsAccepted   bool      `gorm:"column:is_accepted;not null;default:false" json:"isAccepted"`
	Status       Status    `gorm:"column:status;size:16;not null;default:'open'" json:"status"`
	LastActivity time.Time `gorm:"column:last_activity;not null;index" json:"lastActivity"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;index" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
	Tags         []string  `gorm:"-" json:"tags"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "questions"
}

// VoteTargetType identifies questions in the votes ledger.
func (q Question) VoteTargetType() votes.TargetType {
	return votes.TargetQuestion
}

// VoteTargetID returns the ledger key of the question.
func (q Question) VoteTargetID() string {
	return q.ID
}

// QuestionTag links a question to one normalized tag name.
type QuestionTag struct {
	QuestionID string `gorm:"column:question_id;primaryKey;size:64;not null"`
	TagName    string `gorm:"column:tag_name;primaryKey;size:35;not null;index"`
	Position   int    `gorm:"column:position;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (QuestionTag) TableName() string {
	return "question_tags"
}

// Answer is a reply to a question. A user answers a given question at most once.
type Answer struct {
	ID          string          `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	QuestionID  string          `gorm:"column:question_id;size:64;not null;uniqueIndex:idx_answers_question_author,priority:1" json:"question"`
	AuthorID    string          `gorm:"column:author_id;size:190;not null;uniqueIndex:idx_answers_question_author,priority:2" json:"author"`
	Content     string          `gorm:"column:content;type:text;not null" json:"content"`
	IsAccepted  bool            `gorm:"column:is_accepted;not null;default:false" json:"isAccepted"`
	IsEdited    bool            `gorm:"column:is_edited;not null;default:false" json:"isEdited"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null" json:"updatedAt"`
	EditHistory []AnswerEdit    `gorm:"foreignKey:AnswerID" json:"editHistory"`
	Comments    []AnswerComment `gorm:"foreignKey:AnswerID" json:"comments"`
}

// TableName provides the explicit table binding for GORM.
func (Answer) TableName() string {
	return "answers"
}

// VoteTargetType identifies answers in the votes ledger.
func (a Answer) VoteTargetType() votes.TargetType {
	return votes.TargetAnswer
}

// VoteTargetID returns the ledger key of the answer.
func (a Answer) VoteTargetID() string {
	return a.ID
}

// AnswerEdit preserves the content an answer had before an edit.
type AnswerEdit struct {
	ID       string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	AnswerID string    `gorm:"column:answer_id;size:64;not null;index" json:"-"`
	Content  string    `gorm:"column:content;type:text;not null" json:"content"`
	EditorID string    `gorm:"column:editor_id;size:190;not null" json:"editedBy"`
	EditedAt time.Time `gorm:"column:edited_at;not null" json:"editedAt"`
}

// TableName provides the explicit table binding for GORM.
func (AnswerEdit) TableName() string {
	return "answer_edits"
}

// AnswerComment is a short remark attached to an answer.
type AnswerComment struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	AnswerID  string    `gorm:"column:answer_id;size:64;not null;index" json:"-"`
	AuthorID  string    `gorm:"column:author_id;size:190;not null" json:"author"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (AnswerComment) TableName() string {
	return "answer_comments"
}

// Models lists every table owned by this package, in migration order.
func Models() []interface{} {
	return []interface{}{&Question{}, &QuestionTag{}, &Answer{}, &AnswerEdit{}, &AnswerComment{}}
}

// VoteState is the viewer-relative vote summary returned by vote operations.
type VoteState struct {
	VoteCount    int64 `json:"voteCount"`
	HasUpvoted   bool  `json:"hasUpvoted"`
	HasDownvoted bool  `json:"hasDownvoted"`
}

func voteStateOf(tally votes.Tally) VoteState {
	return VoteState{
		VoteCount:    tally.Count(),
		HasUpvoted:   tally.HasUpvoted,
		HasDownvoted: tally.HasDownvoted,
	}
}

// QuestionView is a question with its derived fields for one viewer.
type QuestionView struct {
	Question
	VoteState
	AnswerCount     int64  `json:"answerCount"`
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
}

// AnswerView is an answer with its derived fields for one viewer.
type AnswerView struct {
	Answer
	VoteState
	ContentHTML string `json:"contentHtml,omitempty"`
}
