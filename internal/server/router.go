package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/waypoint/internal/trips"
)

const (
	clientIDContextKey = "waypoint_client_id"
	defaultClientID    = "waypoint-client"
)

var (
	errMissingServiceKey    = errors.New("service key dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingTripsService  = errors.New("trips service dependency required")
	errMissingFeed          = errors.New("feed dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates the backend JWTs guarding the API.
type TokenManager interface {
	IssueServiceToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// PriceChecker runs an on-demand price observation for one reservation.
type PriceChecker interface {
	CheckReservation(ctx context.Context, reservationID string) (trips.PriceSample, error)
}

type Dependencies struct {
	ServiceKey        string
	TokenManager      TokenManager
	TripsService      *trips.Service
	Feed              *trips.FeedDispatcher
	Checker           PriceChecker
	Logger            *zap.Logger
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if strings.TrimSpace(deps.ServiceKey) == "" {
		return nil, errMissingServiceKey
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.TripsService == nil {
		return nil, errMissingTripsService
	}
	if deps.Feed == nil {
		return nil, errMissingFeed
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		serviceKey: []byte(deps.ServiceKey),
		tokens:     deps.TokenManager,
		trips:      deps.TripsService,
		feed:       deps.Feed,
		checker:    deps.Checker,
		logger:     logger,
		heartbeat:  heartbeat,
	}

	router.POST("/auth/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/reservations", handler.handleListReservations)
	protected.POST("/reservations", handler.handleCreateReservation)
	protected.PATCH("/reservations/:id", handler.handleUpdateReservation)
	protected.DELETE("/reservations/:id", handler.handleDeleteReservation)
	protected.GET("/reservations/:id/prices", handler.handleListPriceSamples)
	protected.POST("/reservations/:id/check", handler.handleCheckReservation)
	protected.GET("/stream", handler.handleStream)

	return router, nil
}

type httpHandler struct {
	serviceKey []byte
	tokens     TokenManager
	trips      *trips.Service
	feed       *trips.FeedDispatcher
	checker    PriceChecker
	logger     *zap.Logger
	heartbeat  time.Duration
}

type tokenRequestPayload struct {
	ServiceKey string `json:"service_key"`
	ClientID   string `json:"client_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ServiceKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(request.ServiceKey), h.serviceKey) != 1 {
		h.logger.Warn("service key mismatch on token exchange")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	clientID := strings.TrimSpace(request.ClientID)
	if clientID == "" {
		clientID = defaultClientID
	}

	token, expiresIn, err := h.tokens.IssueServiceToken(c.Request.Context(), clientID)
	if err != nil {
		h.logger.Error("failed to issue service token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type reservationPayload struct {
	ReservationID string  `json:"reservation_id"`
	Location      string  `json:"location"`
	PickupDate    string  `json:"pickup_date"`
	DropoffDate   string  `json:"dropoff_date"`
	PickupTime    string  `json:"pickup_time"`
	DropoffTime   string  `json:"dropoff_time"`
	CarCategory   string  `json:"car_category"`
	HeldPrice     float64 `json:"held_price"`
	CreatedAtS    int64   `json:"created_at_s"`
	UpdatedAtS    int64   `json:"updated_at_s"`
}

func reservationToPayload(reservation trips.Reservation) reservationPayload {
	return reservationPayload{
		ReservationID: reservation.ReservationID,
		Location:      reservation.Location,
		PickupDate:    reservation.PickupDate,
		DropoffDate:   reservation.DropoffDate,
		PickupTime:    reservation.PickupTime,
		DropoffTime:   reservation.DropoffTime,
		CarCategory:   reservation.CarCategory,
		HeldPrice:     reservation.HeldPrice,
		CreatedAtS:    reservation.CreatedAtSeconds,
		UpdatedAtS:    reservation.UpdatedAtSeconds,
	}
}

type priceSamplePayload struct {
	SampleID       string             `json:"sample_id"`
	ReservationID  string             `json:"reservation_id"`
	Prices         map[string]float64 `json:"prices"`
	LowestCategory string             `json:"lowest_category"`
	LowestPrice    float64            `json:"lowest_price"`
	CreatedAtS     int64              `json:"created_at_s"`
}

func priceSampleToPayload(sample trips.PriceSample) priceSamplePayload {
	prices, err := sample.Prices()
	if err != nil {
		prices = nil
	}
	return priceSamplePayload{
		SampleID:       sample.SampleID,
		ReservationID:  sample.ReservationID,
		Prices:         prices,
		LowestCategory: sample.LowestCategory,
		LowestPrice:    sample.LowestPrice,
		CreatedAtS:     sample.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleListReservations(c *gin.Context) {
	reservations, err := h.trips.ListReservations(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list reservations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]reservationPayload, 0, len(reservations))
	for _, reservation := range reservations {
		payload = append(payload, reservationToPayload(reservation))
	}
	c.JSON(http.StatusOK, gin.H{"reservations": payload})
}

func (h *httpHandler) handleCreateReservation(c *gin.Context) {
	var request reservationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.trips.CreateReservation(c.Request.Context(), trips.Reservation{
		Location:    request.Location,
		PickupDate:  request.PickupDate,
		DropoffDate: request.DropoffDate,
		PickupTime:  request.PickupTime,
		DropoffTime: request.DropoffTime,
		CarCategory: request.CarCategory,
		HeldPrice:   request.HeldPrice,
	})
	if err != nil {
		h.respondServiceError(c, "failed to create reservation", err)
		return
	}
	c.JSON(http.StatusCreated, reservationToPayload(created))
}

func (h *httpHandler) handleUpdateReservation(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.trips.UpdateReservation(c.Request.Context(), c.Param("id"), fields); err != nil {
		h.respondServiceError(c, "failed to update reservation", err)
		return
	}

	updated, err := h.trips.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondServiceError(c, "failed to reload reservation", err)
		return
	}
	c.JSON(http.StatusOK, reservationToPayload(updated))
}

func (h *httpHandler) handleDeleteReservation(c *gin.Context) {
	if err := h.trips.DeleteReservation(c.Request.Context(), c.Param("id")); err != nil {
		h.respondServiceError(c, "failed to delete reservation", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListPriceSamples(c *gin.Context) {
	reservationID := c.Param("id")
	if _, err := h.trips.GetReservation(c.Request.Context(), reservationID); err != nil {
		h.respondServiceError(c, "failed to load reservation", err)
		return
	}

	samples, err := h.trips.ListPriceSamples(c.Request.Context(), reservationID)
	if err != nil {
		h.respondServiceError(c, "failed to list price samples", err)
		return
	}
	payload := make([]priceSamplePayload, 0, len(samples))
	for _, sample := range samples {
		payload = append(payload, priceSampleToPayload(sample))
	}
	c.JSON(http.StatusOK, gin.H{"prices": payload})
}

func (h *httpHandler) handleCheckReservation(c *gin.Context) {
	if h.checker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price_checks_disabled"})
		return
	}

	sample, err := h.checker.CheckReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, trips.ErrReservationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Warn("on-demand price check failed",
			zap.String("reservation_id", c.Param("id")),
			zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "price_check_failed"})
		return
	}
	c.JSON(http.StatusOK, priceSampleToPayload(sample))
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, trips.ErrReservationNotFound), errors.Is(err, trips.ErrPriceSampleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, trips.ErrInvalidReservation),
		errors.Is(err, trips.ErrInvalidPriceSample),
		errors.Is(err, trips.ErrUnknownField):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error(message, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(clientIDContextKey, subject)
	c.Next()
}

// bearerToken extracts the backend JWT from the Authorization header, falling
// back to the access_token query parameter for EventSource clients that
// cannot set headers.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token
		}
	}
	return strings.TrimSpace(c.Query("access_token"))
}
