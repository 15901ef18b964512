package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tsudoi-app/tsudoi/backend/internal/auth"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// ResolveCanonicalUserID returns the canonical user id for verified identity
// claims, creating the identity mapping on first sight and refreshing the
// stored profile fields on subsequent logins.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.IdentityClaims) (string, error) {
	provider := normalize(claims.Issuer)
	if provider == "" {
		provider = "default"
	}
	subject := normalize(claims.Subject)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if canonicalIdentifier, ok := cachedIdentifier.(string); ok {
			return canonicalIdentifier, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			AvatarURL:   normalize(claims.AvatarURL),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(claims.DisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		if avatar := normalize(claims.AvatarURL); avatar != "" && avatar != identity.AvatarURL {
			updates["user_avatar_url"] = avatar
		}
		updates["last_seen_at"] = s.now()
		if len(updates) > 0 {
			_ = s.db.WithContext(ctx).Model(&Identity{}).
				Where("provider = ? AND subject = ?", provider, subject).
				Updates(updates).
				Error
		}
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// Profiles returns the stored profile projections for a batch of user ids.
// Unknown ids are omitted; callers fall back to the raw id for display.
func (s *Service) Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	if len(userIDs) == 0 {
		return map[string]Profile{}, nil
	}

	var identities []Identity
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Find(&identities).Error; err != nil {
		return nil, err
	}

	profiles := make(map[string]Profile, len(identities))
	for _, identity := range identities {
		if _, seen := profiles[identity.UserID]; seen {
			continue
		}
		profiles[identity.UserID] = Profile{
			UserID:      identity.UserID,
			DisplayName: identity.DisplayName,
			AvatarURL:   identity.AvatarURL,
		}
	}
	return profiles, nil
}
