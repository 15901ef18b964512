package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tsudoi-app/tsudoi/backend/internal/auth"
	"github.com/tsudoi-app/tsudoi/backend/internal/circles"
	"github.com/tsudoi-app/tsudoi/backend/internal/events"
	"github.com/tsudoi-app/tsudoi/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "tsudoi_user_id"

var (
	errMissingIdentityVerifier = errors.New("identity verifier dependency required")
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingCirclesService   = errors.New("circles service dependency required")
	errMissingEventsService    = errors.New("events service dependency required")
	errMissingRealtime         = errors.New("realtime dispatcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// IdentityVerifier checks an identity-provider token and extracts its claims.
type IdentityVerifier interface {
	Verify(ctx context.Context, token string) (auth.IdentityClaims, error)
}

// BackendTokenManager issues and validates the backend's own bearer tokens.
type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	IdentityVerifier IdentityVerifier
	TokenManager     BackendTokenManager
	UsersService     *users.Service
	CirclesService   *circles.Service
	EventsService    *events.Service
	Realtime         *RealtimeDispatcher
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.IdentityVerifier == nil {
		return nil, errMissingIdentityVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.CirclesService == nil {
		return nil, errMissingCirclesService
	}
	if deps.EventsService == nil {
		return nil, errMissingEventsService
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		verifier: deps.IdentityVerifier,
		tokens:   deps.TokenManager,
		users:    deps.UsersService,
		circles:  deps.CirclesService,
		events:   deps.EventsService,
		realtime: deps.Realtime,
		logger:   logger,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/api")
	protected.Use(handler.authorizeRequest)

	protected.POST("/circles", handler.handleCreateCircle)
	protected.GET("/circles", handler.handleListCircles)
	protected.POST("/circles/join", handler.handleJoinByCode)
	protected.POST("/circles/:circleID/invite-code", handler.handleRegenerateInviteCode)
	protected.POST("/circles/:circleID/join-requests", handler.handleRequestJoin)
	protected.GET("/circles/:circleID/join-requests", handler.handleListJoinRequests)
	protected.POST("/join-requests/:requestID/review", handler.handleReviewJoinRequest)

	protected.POST("/circles/:circleID/events", handler.handleCreateEvent)
	protected.GET("/circles/:circleID/events", handler.handleListEvents)
	protected.GET("/events/:eventID", handler.handleEventDetail)
	protected.DELETE("/events/:eventID", handler.handleDeleteEvent)
	protected.POST("/events/:eventID/slots/:slotID/advance", handler.handleAdvanceResponse)
	protected.PUT("/events/:eventID/slots/:slotID/response", handler.handleSetResponse)
	protected.DELETE("/events/:eventID/slots/:slotID/response", handler.handleClearResponse)
	protected.GET("/events/:eventID/stream", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	verifier IdentityVerifier
	tokens   BackendTokenManager
	users    *users.Service
	circles  *circles.Service
	events   *events.Service
	realtime *RealtimeDispatcher
	logger   *zap.Logger
}

type authRequestPayload struct {
	IDToken string `json:"id_token"`
}

type authResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request authRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("identity token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to resolve canonical user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "user_resolution_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the access_token query parameter for EventSource clients that
// cannot set headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, events.ErrEventNotFound),
		errors.Is(err, events.ErrSlotNotFound),
		errors.Is(err, circles.ErrCircleNotFound),
		errors.Is(err, circles.ErrInviteCodeNotFound),
		errors.Is(err, circles.ErrJoinRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, events.ErrForbidden),
		errors.Is(err, events.ErrNotCircleMember),
		errors.Is(err, circles.ErrNotCircleAdmin):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, circles.ErrAlreadyMember),
		errors.Is(err, circles.ErrJoinRequestResolved),
		errors.Is(err, circles.ErrJoinRequestPending):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, events.ErrNoSlots),
		errors.Is(err, events.ErrInvalidEventID),
		errors.Is(err, events.ErrInvalidSlotID),
		errors.Is(err, events.ErrInvalidUserID),
		errors.Is(err, events.ErrInvalidResponseValue):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
