package notifications

import "time"

// Type enumerates notification kinds.
type Type string

const (
	TypeAnswer  Type = "answer"
	TypeVote    Type = "vote"
	TypeMention Type = "mention"
	TypeComment Type = "comment"
	TypeAccept  Type = "accept"
)

// Metadata holds display data captured when the notification is created. It is never
// refreshed from the source entities afterwards.
type Metadata struct {
	VoteType      string `json:"voteType,omitempty"`
	QuestionTitle string `json:"questionTitle,omitempty"`
	AnswerPreview string `json:"answerPreview,omitempty"`
}

// Notification is a persisted message addressed to one recipient.
type Notification struct {
	ID          string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	RecipientID string    `gorm:"column:recipient_id;size:190;not null;index:idx_notifications_recipient_read,priority:1" json:"recipient"`
	SenderID    string    `gorm:"column:sender_id;size:190;not null" json:"sender"`
	Type        Type      `gorm:"column:type;size:16;not null" json:"type"`
	QuestionID  string    `gorm:"column:question_id;size:64;not null;default:''" json:"question,omitempty"`
	AnswerID    string    `gorm:"column:answer_id;size:64;not null;default:''" json:"answer,omitempty"`
	Content     string    `gorm:"column:content;type:text;not null" json:"content"`
	Read        bool      `gorm:"column:is_read;not null;default:false;index:idx_notifications_recipient_read,priority:2" json:"read"`
	Metadata    Metadata  `gorm:"column:metadata;type:text;serializer:json" json:"metadata"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// AnswerCreated is raised after an answer is persisted.
type AnswerCreated struct {
	QuestionID       string
	QuestionTitle    string
	QuestionAuthorID string
	AnswerID         string
	AnswerAuthorID   string
	AnswerAuthorName string
	AnswerContent    string
}

// VoteCast is raised after a vote is added to a question or an answer.
type VoteCast struct {
	QuestionID     string
	QuestionTitle  string
	AnswerID       string
	TargetAuthorID string
	VoterID        string
	VoterName      string
	VoteType       string
}

// CommentAdded is raised after a comment is appended to an answer.
type CommentAdded struct {
	QuestionID     string
	QuestionTitle  string
	AnswerID       string
	AnswerAuthorID string
	CommenterID    string
	CommenterName  string
	CommentContent string
}
