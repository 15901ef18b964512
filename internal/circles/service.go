package circles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrCircleNotFound indicates the referenced circle does not exist.
	ErrCircleNotFound = errors.New("circles: circle not found")
	// ErrInviteCodeNotFound indicates no circle carries the supplied code.
	ErrInviteCodeNotFound = errors.New("circles: invite code not found")
	// ErrAlreadyMember indicates the user already belongs to the circle.
	ErrAlreadyMember = errors.New("circles: already a member")
	// ErrNotCircleAdmin indicates the caller lacks owner or admin role.
	ErrNotCircleAdmin = errors.New("circles: owner or admin role required")
	// ErrJoinRequestNotFound indicates the referenced join request does not exist.
	ErrJoinRequestNotFound = errors.New("circles: join request not found")
	// ErrJoinRequestResolved indicates the join request was already reviewed.
	ErrJoinRequestResolved = errors.New("circles: join request already resolved")
	// ErrJoinRequestPending indicates the user already has an open request.
	ErrJoinRequestPending = errors.New("circles: join request already pending")
)

// ServiceError wraps a failure with a stable per-operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code exposes the machine-readable failure code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "circles.service.new"
	opCreateCircle      = "circles.create"
	opListCircles       = "circles.list"
	opJoinByCode        = "circles.join_by_code"
	opRegenerateCode    = "circles.regenerate_invite_code"
	opRequestJoin       = "circles.request_join"
	opListJoinRequests  = "circles.list_join_requests"
	opReviewJoinRequest = "circles.review_join_request"
	opMembership        = "circles.membership"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for newly stored rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig bundles the service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service manages circles, memberships, invite codes and join requests. It
// also implements the membership predicate the events engine authorizes
// against.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates dependencies and constructs the circles service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, idProvider: cfg.IDProvider, logger: logger}, nil
}

// CreateCircle stores a circle with a fresh invite code and enrolls the
// creator as its owner, atomically.
func (s *Service) CreateCircle(ctx context.Context, ownerID, name, description string) (Circle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Circle{}, newServiceError(opCreateCircle, "missing_name", errors.New("name is required"))
	}

	circleID, err := s.idProvider.NewID()
	if err != nil {
		return Circle{}, newServiceError(opCreateCircle, "id_generation_failed", err)
	}
	memberID, err := s.idProvider.NewID()
	if err != nil {
		return Circle{}, newServiceError(opCreateCircle, "id_generation_failed", err)
	}
	code, err := newInviteCode()
	if err != nil {
		return Circle{}, newServiceError(opCreateCircle, "invite_code_failed", err)
	}

	now := s.clock().UTC()
	circle := Circle{
		ID:          circleID,
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		InviteCode:  code,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	owner := CircleMember{
		ID:       memberID,
		CircleID: circleID,
		UserID:   ownerID,
		Role:     RoleOwner,
		JoinedAt: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&circle).Error; err != nil {
			return newServiceError(opCreateCircle, "circle_insert_failed", err)
		}
		if err := tx.Create(&owner).Error; err != nil {
			return newServiceError(opCreateCircle, "member_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreateCircle, "transaction_failed", txErr, zap.String("owner_id", ownerID))
		return Circle{}, txErr
	}
	return circle, nil
}

// ListCircles returns the circles the user belongs to, newest membership first.
func (s *Service) ListCircles(ctx context.Context, userID string) ([]Circle, error) {
	var memberships []CircleMember
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("joined_at DESC").
		Find(&memberships).Error; err != nil {
		s.logError(opListCircles, "membership_query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListCircles, "membership_query_failed", err)
	}
	if len(memberships) == 0 {
		return []Circle{}, nil
	}

	circleIDs := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		circleIDs = append(circleIDs, membership.CircleID)
	}

	var stored []Circle
	if err := s.db.WithContext(ctx).Where("id IN ?", circleIDs).Find(&stored).Error; err != nil {
		s.logError(opListCircles, "circle_query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListCircles, "circle_query_failed", err)
	}

	byID := make(map[string]Circle, len(stored))
	for _, circle := range stored {
		byID[circle.ID] = circle
	}
	ordered := make([]Circle, 0, len(memberships))
	for _, membership := range memberships {
		if circle, ok := byID[membership.CircleID]; ok {
			ordered = append(ordered, circle)
		}
	}
	return ordered, nil
}

// JoinByCode resolves an invite code and enrolls the user as a member.
func (s *Service) JoinByCode(ctx context.Context, userID, code string) (Circle, error) {
	code = strings.ToLower(strings.TrimSpace(code))

	var circle Circle
	err := s.db.WithContext(ctx).Where("invite_code = ?", code).Take(&circle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Circle{}, newServiceError(opJoinByCode, "code_not_found", ErrInviteCodeNotFound)
	}
	if err != nil {
		s.logError(opJoinByCode, "circle_select_failed", err)
		return Circle{}, newServiceError(opJoinByCode, "circle_select_failed", err)
	}

	if err := s.enroll(ctx, opJoinByCode, circle.ID, userID, RoleMember); err != nil {
		return Circle{}, err
	}
	return circle, nil
}

// RegenerateInviteCode replaces the circle's invite code. Owner or admin only.
func (s *Service) RegenerateInviteCode(ctx context.Context, circleID, callerID string) (string, error) {
	if err := s.requireAdmin(ctx, opRegenerateCode, circleID, callerID); err != nil {
		return "", err
	}

	code, err := newInviteCode()
	if err != nil {
		return "", newServiceError(opRegenerateCode, "invite_code_failed", err)
	}

	result := s.db.WithContext(ctx).Model(&Circle{}).
		Where("id = ?", circleID).
		Updates(map[string]interface{}{"invite_code": code, "updated_at": s.clock().UTC()})
	if result.Error != nil {
		s.logError(opRegenerateCode, "update_failed", result.Error, zap.String("circle_id", circleID))
		return "", newServiceError(opRegenerateCode, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", newServiceError(opRegenerateCode, "circle_not_found", ErrCircleNotFound)
	}
	return code, nil
}

// RequestJoin files a pending join request for a circle found by search.
func (s *Service) RequestJoin(ctx context.Context, circleID, userID string) (JoinRequest, error) {
	var circleCount int64
	if err := s.db.WithContext(ctx).Model(&Circle{}).Where("id = ?", circleID).Count(&circleCount).Error; err != nil {
		s.logError(opRequestJoin, "circle_select_failed", err, zap.String("circle_id", circleID))
		return JoinRequest{}, newServiceError(opRequestJoin, "circle_select_failed", err)
	}
	if circleCount == 0 {
		return JoinRequest{}, newServiceError(opRequestJoin, "circle_not_found", ErrCircleNotFound)
	}

	member, err := s.IsMember(ctx, circleID, userID)
	if err != nil {
		return JoinRequest{}, newServiceError(opRequestJoin, "membership_check_failed", err)
	}
	if member {
		return JoinRequest{}, newServiceError(opRequestJoin, "already_member", ErrAlreadyMember)
	}

	var pending int64
	if err := s.db.WithContext(ctx).Model(&JoinRequest{}).
		Where("circle_id = ? AND user_id = ? AND status = ?", circleID, userID, JoinRequestPending).
		Count(&pending).Error; err != nil {
		s.logError(opRequestJoin, "pending_query_failed", err, zap.String("circle_id", circleID))
		return JoinRequest{}, newServiceError(opRequestJoin, "pending_query_failed", err)
	}
	if pending > 0 {
		return JoinRequest{}, newServiceError(opRequestJoin, "already_pending", ErrJoinRequestPending)
	}

	requestID, err := s.idProvider.NewID()
	if err != nil {
		return JoinRequest{}, newServiceError(opRequestJoin, "id_generation_failed", err)
	}
	request := JoinRequest{
		ID:        requestID,
		CircleID:  circleID,
		UserID:    userID,
		Status:    JoinRequestPending,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&request).Error; err != nil {
		s.logError(opRequestJoin, "insert_failed", err, zap.String("circle_id", circleID))
		return JoinRequest{}, newServiceError(opRequestJoin, "insert_failed", err)
	}
	return request, nil
}

// ListJoinRequests returns the circle's pending requests. Owner or admin only.
func (s *Service) ListJoinRequests(ctx context.Context, circleID, callerID string) ([]JoinRequest, error) {
	if err := s.requireAdmin(ctx, opListJoinRequests, circleID, callerID); err != nil {
		return nil, err
	}

	var requests []JoinRequest
	if err := s.db.WithContext(ctx).
		Where("circle_id = ? AND status = ?", circleID, JoinRequestPending).
		Order("created_at ASC").
		Find(&requests).Error; err != nil {
		s.logError(opListJoinRequests, "query_failed", err, zap.String("circle_id", circleID))
		return nil, newServiceError(opListJoinRequests, "query_failed", err)
	}
	return requests, nil
}

// ReviewJoinRequest approves or rejects a pending request; approval enrolls
// the requester as a member in the same transaction.
func (s *Service) ReviewJoinRequest(ctx context.Context, requestID, callerID string, approve bool) error {
	var request JoinRequest
	err := s.db.WithContext(ctx).Where("id = ?", requestID).Take(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opReviewJoinRequest, "request_not_found", ErrJoinRequestNotFound)
	}
	if err != nil {
		s.logError(opReviewJoinRequest, "request_select_failed", err, zap.String("request_id", requestID))
		return newServiceError(opReviewJoinRequest, "request_select_failed", err)
	}
	if request.Status != JoinRequestPending {
		return newServiceError(opReviewJoinRequest, "already_resolved", ErrJoinRequestResolved)
	}
	if err := s.requireAdmin(ctx, opReviewJoinRequest, request.CircleID, callerID); err != nil {
		return err
	}

	status := JoinRequestRejected
	if approve {
		status = JoinRequestApproved
	}
	now := s.clock().UTC()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&JoinRequest{}).
			Where("id = ? AND status = ?", requestID, JoinRequestPending).
			Updates(map[string]interface{}{
				"status":      status,
				"reviewed_at": now,
				"reviewed_by": callerID,
			})
		if result.Error != nil {
			return newServiceError(opReviewJoinRequest, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(opReviewJoinRequest, "already_resolved", ErrJoinRequestResolved)
		}
		if !approve {
			return nil
		}
		memberID, err := s.idProvider.NewID()
		if err != nil {
			return newServiceError(opReviewJoinRequest, "id_generation_failed", err)
		}
		member := CircleMember{
			ID:       memberID,
			CircleID: request.CircleID,
			UserID:   request.UserID,
			Role:     RoleMember,
			JoinedAt: now,
		}
		if err := tx.Create(&member).Error; err != nil {
			return newServiceError(opReviewJoinRequest, "member_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opReviewJoinRequest, "transaction_failed", txErr, zap.String("request_id", requestID))
	}
	return txErr
}

// IsMember reports whether the user belongs to the circle. Satisfies the
// events engine's MembershipChecker.
func (s *Service) IsMember(ctx context.Context, circleID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&CircleMember{}).
		Where("circle_id = ? AND user_id = ?", circleID, userID).
		Count(&count).Error
	if err != nil {
		s.logError(opMembership, "query_failed", err,
			zap.String("circle_id", circleID), zap.String("user_id", userID))
		return false, err
	}
	return count > 0, nil
}

func (s *Service) requireAdmin(ctx context.Context, operation, circleID, callerID string) error {
	var membership CircleMember
	err := s.db.WithContext(ctx).
		Where("circle_id = ? AND user_id = ?", circleID, callerID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(operation, "not_admin", ErrNotCircleAdmin)
	}
	if err != nil {
		s.logError(operation, "membership_select_failed", err, zap.String("circle_id", circleID))
		return newServiceError(operation, "membership_select_failed", err)
	}
	if membership.Role != RoleOwner && membership.Role != RoleAdmin {
		return newServiceError(operation, "not_admin", ErrNotCircleAdmin)
	}
	return nil
}

func (s *Service) enroll(ctx context.Context, operation, circleID, userID string, role MemberRole) error {
	member, err := s.IsMember(ctx, circleID, userID)
	if err != nil {
		return newServiceError(operation, "membership_check_failed", err)
	}
	if member {
		return newServiceError(operation, "already_member", ErrAlreadyMember)
	}

	memberID, err := s.idProvider.NewID()
	if err != nil {
		return newServiceError(operation, "id_generation_failed", err)
	}
	record := CircleMember{
		ID:       memberID,
		CircleID: circleID,
		UserID:   userID,
		Role:     role,
		JoinedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(operation, "member_insert_failed", err, zap.String("circle_id", circleID))
		return newServiceError(operation, "member_insert_failed", err)
	}
	return nil
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
	s.logger.Error("circles service error", attrs...)
}
