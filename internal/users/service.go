package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/auth"
	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "users.service.new"
	opResolve    = "users.resolve"
	opGet        = "users.get"
	opNames      = "users.names"

	defaultProvider = "default"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")

	errMissingDatabase = errors.New("database handle is required")
	errUserMissing     = errors.New("user not found")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required for user resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maps session claims onto local user records.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, faults.Storage(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Resolve returns the user for the provided session claims, creating the record the first
// time the provider+subject pair is seen and refreshing profile fields afterwards.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (User, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return User{}, faults.Validation(opResolve, "missing_subject", ErrInvalidIdentity)
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if user, ok := cached.(User); ok && !profileChanged(user, claims) {
			return user, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&user).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = User{
			ID:          subject,
			Provider:    provider,
			Subject:     subject,
			UserName:    normalize(claims.UserName),
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			AvatarURL:   normalize(claims.UserAvatarURL),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			s.logError(opResolve, "insert_failed", err, subject)
			return User{}, faults.Storage(opResolve, "insert_failed", err)
		}
	case err != nil:
		s.logError(opResolve, "query_failed", err, subject)
		return User{}, faults.Storage(opResolve, "query_failed", err)
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if name := normalize(claims.UserName); name != "" && name != user.UserName {
			updates["user_name"] = name
			user.UserName = name
		}
		if email := normalize(claims.UserEmail); email != "" && email != user.Email {
			updates["user_email"] = email
			user.Email = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != user.DisplayName {
			updates["user_display_name"] = display
			user.DisplayName = display
		}
		if avatar := normalize(claims.UserAvatarURL); avatar != "" && avatar != user.AvatarURL {
			updates["user_avatar_url"] = avatar
			user.AvatarURL = avatar
		}
		if err := s.db.WithContext(ctx).Model(&User{}).
			Where("id = ?", user.ID).
			Updates(updates).Error; err != nil {
			// Profile refresh is best effort; the identity itself is already known.
			s.logger.Warn("users profile refresh failed",
				zap.String("operation", opResolve),
				zap.String("user_id", user.ID),
				zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, user)
	return user, nil
}

// Get loads one user by id.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, faults.NotFound(opGet, "user_missing", errUserMissing)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, userID)
		return User{}, faults.Storage(opGet, "query_failed", err)
	}
	return user, nil
}

// Names maps user ids onto display labels. Unknown ids are absent from the result.
func (s *Service) Names(ctx context.Context, userIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return names, nil
	}
	var found []User
	if err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&found).Error; err != nil {
		s.logError(opNames, "query_failed", err, strings.Join(userIDs, ","))
		return nil, faults.Storage(opNames, "query_failed", err)
	}
	for _, user := range found {
		names[user.ID] = user.Name()
	}
	return names, nil
}

func profileChanged(user User, claims auth.SessionClaims) bool {
	differs := func(claimed, stored string) bool {
		claimed = normalize(claimed)
		return claimed != "" && claimed != stored
	}
	return differs(claims.UserName, user.UserName) ||
		differs(claims.UserEmail, user.Email) ||
		differs(claims.UserDisplayName, user.DisplayName) ||
		differs(claims.UserAvatarURL, user.AvatarURL)
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" || strings.Contains(subject, ":") {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}

	return provider, subject
}

func (s *Service) logError(operation, reason string, err error, userID string) {
	s.logger.Error("users service error",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("user_id", userID),
		zap.Error(err))
}
