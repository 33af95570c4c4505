// Package questions implements the question and answer workflow: authoring, voting,
// acceptance, comments and edits.
package questions

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/content"
	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"github.com/MarcoPoloResearchLab/qna/internal/ids"
	"github.com/MarcoPoloResearchLab/qna/internal/notifications"
	"github.com/MarcoPoloResearchLab/qna/internal/votes"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "questions.service.new"

	defaultMinTitleLength       = 10
	defaultMinDescriptionLength = 20
	defaultMinAnswerLength      = 20
	maxTitleLength              = 150
	maxCommentLength            = 600
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingLedger     = errors.New("vote ledger is required")
	errMissingNotifier   = errors.New("notification service is required")
	noOpLogger           = zap.NewNop()
)

// Directory resolves user ids to display names.
type Directory interface {
	Names(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Recorder observes state transitions for metrics.
type Recorder interface {
	VoteRecorded(target, direction, action string)
	AnswerAccepted()
}

// Limits bounds user-authored text, measured in characters.
type Limits struct {
	MinTitleLength       int
	MinDescriptionLength int
	MinAnswerLength      int
}

// ServiceConfig describes the dependencies of the Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Ledger     *votes.Ledger
	Notifier   *notifications.Service
	Directory  Directory
	Renderer   *content.Renderer
	Recorder   Recorder
	Limits     Limits
	Logger     *zap.Logger
}

// Service owns questions and answers and coordinates the vote ledger and notifications.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	ledger     *votes.Ledger
	notifier   *notifications.Service
	directory  Directory
	renderer   *content.Renderer
	recorder   Recorder
	limits     Limits
	logger     *zap.Logger
}

// NewService constructs a questions Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, faults.Storage(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, faults.Storage(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Ledger == nil {
		return nil, faults.Storage(opServiceNew, "missing_ledger", errMissingLedger)
	}
	if cfg.Notifier == nil {
		return nil, faults.Storage(opServiceNew, "missing_notifier", errMissingNotifier)
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

	limits := cfg.Limits
	if limits.MinTitleLength <= 0 {
		limits.MinTitleLength = defaultMinTitleLength
	}
	if limits.MinDescriptionLength <= 0 {
		limits.MinDescriptionLength = defaultMinDescriptionLength
	}
	if limits.MinAnswerLength <= 0 {
		limits.MinAnswerLength = defaultMinAnswerLength
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		ledger:     cfg.Ledger,
		notifier:   cfg.Notifier,
		directory:  cfg.Directory,
		renderer:   renderer,
		recorder:   cfg.Recorder,
		limits:     limits,
		logger:     logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", faults.Storage(operation, "id_generation_failed", err)
	}
	return id, nil
}

// displayName looks up one user's label. Lookup failures degrade to an empty name.
func (s *Service) displayName(ctx context.Context, userID string) string {
	if s.directory == nil {
		return ""
	}
	names, err := s.directory.Names(ctx, []string{userID})
	if err != nil {
		s.logger.Warn("questions display name lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return ""
	}
	return names[userID]
}

func (s *Service) loadQuestion(ctx context.Context, tx *gorm.DB, operation, questionID string) (Question, error) {
	var question Question
	err := tx.WithContext(ctx).Where("id = ?", questionID).Take(&question).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Question{}, faults.NotFound(operation, "question_missing", err)
	}
	if err != nil {
		s.logError(operation, "question_select_failed", err, zap.String("question_id", questionID))
		return Question{}, faults.Storage(operation, "question_select_failed", err)
	}
	return question, nil
}

func (s *Service) loadAnswer(ctx context.Context, tx *gorm.DB, operation, answerID string) (Answer, error) {
	var answer Answer
	err := tx.WithContext(ctx).Where("id = ?", answerID).Take(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Answer{}, faults.NotFound(operation, "answer_missing", err)
	}
	if err != nil {
		s.logError(operation, "answer_select_failed", err, zap.String("answer_id", answerID))
		return Answer{}, faults.Storage(operation, "answer_select_failed", err)
	}
	return answer, nil
}

func (s *Service) recordVote(target votes.TargetType, direction votes.Direction, action string) {
	if s.recorder != nil {
		s.recorder.VoteRecorded(string(target), direction.String(), action)
	}
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
	s.logger.Error("questions service error", attrs...)
}
