package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/content"
	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"github.com/MarcoPoloResearchLab/qna/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "notifications.service.new"
	opDispatch     = "notifications.dispatch"
	opList         = "notifications.list"
	opUnreadCount  = "notifications.unread_count"
	opMarkRead     = "notifications.mark_read"
	opMarkAllRead  = "notifications.mark_all_read"
	opDelete       = "notifications.delete"
	queryRecipient = "recipient_id = ?"
	defaultLimit   = 20
	maxLimit       = 100
	anonymousName  = "Someone"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingRecipient  = errors.New("recipient identifier is required")
	errNotOwned          = errors.New("notification not found for recipient")
	noOpLogger           = zap.NewNop()
)

// Publisher receives notifications after they are committed.
type Publisher interface {
	PublishNotification(notification Notification)
}

// Recorder counts created notifications.
type Recorder interface {
	NotificationCreated(notificationType string)
}

// ServiceConfig describes the dependencies of the Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Renderer   *content.Renderer
	Publisher  Publisher
	Recorder   Recorder
	Logger     *zap.Logger
}

// Service dispatches domain events into notifications and manages recipient read state.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	renderer   *content.Renderer
	publisher  Publisher
	recorder   Recorder
	logger     *zap.Logger
}

// NewService constructs a notifications Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, faults.Storage(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, faults.Storage(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	renderer := cfg.Renderer
	if renderer == nil {
		renderer = content.NewRenderer()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		renderer:   renderer,
		publisher:  cfg.Publisher,
		recorder:   cfg.Recorder,
		logger:     logger,
	}, nil
}

// AnswerCreatedTx records the "answer" notification for the question author inside tx.
// It returns nil when the answerer is the question author.
func (s *Service) AnswerCreatedTx(tx *gorm.DB, event AnswerCreated) (*Notification, error) {
	if event.AnswerAuthorID == event.QuestionAuthorID {
		return nil, nil
	}
	notification, err := s.build(event.QuestionAuthorID, event.AnswerAuthorID, TypeAnswer)
	if err != nil {
		return nil, err
	}
	notification.QuestionID = event.QuestionID
	notification.AnswerID = event.AnswerID
	notification.Content = fmt.Sprintf("%s answered your question %q", displayName(event.AnswerAuthorName), event.QuestionTitle)
	notification.Metadata = Metadata{
		QuestionTitle: event.QuestionTitle,
		AnswerPreview: s.renderer.Preview(event.AnswerContent),
	}
	return s.store(tx, notification)
}

// CommentAddedTx records the "comment" notification for the answer author inside tx.
func (s *Service) CommentAddedTx(tx *gorm.DB, event CommentAdded) (*Notification, error) {
	if event.CommenterID == event.AnswerAuthorID {
		return nil, nil
	}
	notification, err := s.build(event.AnswerAuthorID, event.CommenterID, TypeComment)
	if err != nil {
		return nil, err
	}
	notification.QuestionID = event.QuestionID
	notification.AnswerID = event.AnswerID
	notification.Content = fmt.Sprintf("%s commented on your answer to %q", displayName(event.CommenterName), event.QuestionTitle)
	notification.Metadata = Metadata{
		QuestionTitle: event.QuestionTitle,
		AnswerPreview: s.renderer.Preview(event.CommentContent),
	}
	return s.store(tx, notification)
}

// VoteCast records and announces the "vote" notification for the target author.
func (s *Service) VoteCast(ctx context.Context, event VoteCast) (*Notification, error) {
	if event.VoterID == event.TargetAuthorID {
		return nil, nil
	}
	notification, err := s.build(event.TargetAuthorID, event.VoterID, TypeVote)
	if err != nil {
		return nil, err
	}
	target := "question"
	if event.AnswerID != "" {
		target = "answer on"
	}
	notification.QuestionID = event.QuestionID
	notification.AnswerID = event.AnswerID
	notification.Content = fmt.Sprintf("%s %sd your %s %q", displayName(event.VoterName), event.VoteType, target, event.QuestionTitle)
	notification.Metadata = Metadata{
		VoteType:      event.VoteType,
		QuestionTitle: event.QuestionTitle,
	}
	stored, err := s.store(s.db.WithContext(ctx), notification)
	if err != nil {
		return nil, err
	}
	s.Announce(stored)
	return stored, nil
}

// Announce hands committed notifications to the publisher. Nil entries are skipped.
func (s *Service) Announce(notifications ...*Notification) {
	for _, notification := range notifications {
		if notification == nil {
			continue
		}
		if s.recorder != nil {
			s.recorder.NotificationCreated(string(notification.Type))
		}
		if s.publisher != nil {
			s.publisher.PublishNotification(*notification)
		}
	}
}

func (s *Service) build(recipientID, senderID string, notificationType Type) (*Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, faults.Validation(opDispatch, "missing_recipient", errMissingRecipient)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opDispatch, "id_generation_failed", err, zap.String("recipient_id", recipientID))
		return nil, faults.Storage(opDispatch, "id_generation_failed", err)
	}
	return &Notification{
		ID:          id,
		RecipientID: recipientID,
		SenderID:    senderID,
		Type:        notificationType,
		CreatedAt:   s.clock().UTC(),
	}, nil
}

func (s *Service) store(tx *gorm.DB, notification *Notification) (*Notification, error) {
	if err := tx.Create(notification).Error; err != nil {
		s.logError(opDispatch, "insert_failed", err,
			zap.String("recipient_id", notification.RecipientID),
			zap.String("type", string(notification.Type)))
		return nil, faults.Storage(opDispatch, "insert_failed", err)
	}
	return notification, nil
}

// ListOptions narrows a notification listing.
type ListOptions struct {
	UnreadOnly bool
	Page       int
	Limit      int
}

// ListResult is a page of notifications plus the recipient's unread count.
type ListResult struct {
	Notifications []Notification
	UnreadCount   int64
	Total         int64
	Page          int
	Limit         int
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string, options ListOptions) (ListResult, error) {
	if strings.TrimSpace(recipientID) == "" {
		return ListResult{}, faults.Validation(opList, "missing_recipient", errMissingRecipient)
	}
	page, limit := options.Page, options.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	scoped := func() *gorm.DB {
		query := s.db.WithContext(ctx).Model(&Notification{}).Where(queryRecipient, recipientID)
		if options.UnreadOnly {
			query = query.Where("is_read = ?", false)
		}
		return query
	}
	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err, zap.String("recipient_id", recipientID))
		return ListResult{}, faults.Storage(opList, "count_failed", err)
	}
	notifications := make([]Notification, 0, limit)
	if err := scoped().Order("created_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("recipient_id", recipientID))
		return ListResult{}, faults.Storage(opList, "query_failed", err)
	}
	unread, err := s.UnreadCount(ctx, recipientID)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{
		Notifications: notifications,
		UnreadCount:   unread,
		Total:         total,
		Page:          page,
		Limit:         limit,
	}, nil
}

// UnreadCount counts the recipient's unread notifications.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	if strings.TrimSpace(recipientID) == "" {
		return 0, faults.Validation(opUnreadCount, "missing_recipient", errMissingRecipient)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Notification{}).
		Where(queryRecipient+" AND is_read = ?", recipientID, false).
		Count(&count).Error; err != nil {
		s.logError(opUnreadCount, "query_failed", err, zap.String("recipient_id", recipientID))
		return 0, faults.Storage(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// MarkRead marks the listed notifications read. Identifiers owned by other recipients are ignored.
func (s *Service) MarkRead(ctx context.Context, recipientID string, notificationIDs []string) (int64, error) {
	if strings.TrimSpace(recipientID) == "" {
		return 0, faults.Validation(opMarkRead, "missing_recipient", errMissingRecipient)
	}
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where(queryRecipient+" AND id IN ? AND is_read = ?", recipientID, notificationIDs, false).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkRead, "update_failed", result.Error, zap.String("recipient_id", recipientID))
		return 0, faults.Storage(opMarkRead, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// MarkAllRead marks every notification of the recipient read.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	if strings.TrimSpace(recipientID) == "" {
		return 0, faults.Validation(opMarkAllRead, "missing_recipient", errMissingRecipient)
	}
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where(queryRecipient+" AND is_read = ?", recipientID, false).
		Update("is_read", true)
	if result.Error != nil {
		s.logError(opMarkAllRead, "update_failed", result.Error, zap.String("recipient_id", recipientID))
		return 0, faults.Storage(opMarkAllRead, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// Delete removes a notification owned by the recipient.
func (s *Service) Delete(ctx context.Context, recipientID, notificationID string) error {
	if strings.TrimSpace(recipientID) == "" {
		return faults.Validation(opDelete, "missing_recipient", errMissingRecipient)
	}
	result := s.db.WithContext(ctx).
		Where("id = ? AND "+queryRecipient, notificationID, recipientID).
		Delete(&Notification{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("recipient_id", recipientID))
		return faults.Storage(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return faults.NotFound(opDelete, "notification_missing", errNotOwned)
	}
	return nil
}

func displayName(name string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return anonymousName
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notifications service error", attrs...)
}
