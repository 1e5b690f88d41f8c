package httpapi

import (
	"net/http"
	"slices"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/internal/observability"
	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	defaultAdminRole = "admin"
)

// Dependencies collects what the HTTP surface needs. Validator, Metrics and
// RateLimiter are optional: without a validator the session and staff routes
// are not mounted.
type Dependencies struct {
	Service        *booking.Service
	Logger         *zap.Logger
	Validator      *sessionvalidator.Validator
	Metrics        *observability.Metrics
	RateLimiter    *RateLimiter
	AllowedOrigins []string
	AdminRole      string
}

type httpHandler struct {
	service *booking.Service
	logger  *zap.Logger
}

// NewRouter builds the gin engine serving the public, session and staff APIs.
func NewRouter(dependencies Dependencies) *gin.Engine {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{service: dependencies.Service, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if dependencies.Metrics != nil {
		router.Use(dependencies.Metrics.GinMiddleware())
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     dependencies.AllowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if dependencies.Metrics != nil {
		router.GET("/metrics", gin.WrapH(dependencies.Metrics.Handler()))
	}

	api := router.Group("/api")
	if dependencies.RateLimiter != nil {
		api.Use(dependencies.RateLimiter.Middleware())
	}
	api.GET("/calendar", handler.handleMonthView)
	api.GET("/timeslots", handler.handleListSlots)
	api.GET("/timeslots/:key", handler.handleGetSlot)
	api.GET("/products", handler.handleListActiveProducts)
	api.GET("/products/:id", handler.handleGetProduct)
	api.GET("/products/:id/availability", handler.handleProductAvailability)
	api.POST("/reservations", handler.handleCreateReservation)
	api.GET("/reservations/:id", handler.handleGetReservation)
	api.GET("/reservations/by-number/:number", handler.handleGetReservationByNumber)
	api.PUT("/reservations/:id", handler.handleRescheduleReservation)
	api.DELETE("/reservations/:id", handler.handleCancelReservation)

	if dependencies.Validator == nil {
		return router
	}
	session := api.Group("/me")
	session.Use(dependencies.Validator.GinMiddleware(claimsContextKey))
	session.GET("/reservations", handler.handleMyReservations)

	adminRole := dependencies.AdminRole
	if adminRole == "" {
		adminRole = defaultAdminRole
	}
	staff := api.Group("/admin")
	staff.Use(dependencies.Validator.GinMiddleware(claimsContextKey), requireRole(adminRole))
	staff.POST("/timeslots", handler.handleCreateSlot)
	staff.GET("/timeslots/stats", handler.handleSlotStats)
	staff.PATCH("/timeslots/:key", handler.handleUpdateSlot)
	staff.DELETE("/timeslots/:key", handler.handleDeleteSlot)
	staff.GET("/products", handler.handleListAllProducts)
	staff.POST("/products", handler.handleCreateProduct)
	staff.PATCH("/products/:id", handler.handleUpdateProduct)
	staff.DELETE("/products/:id", handler.handleDeactivateProduct)
	staff.GET("/reservations", handler.handleSearchReservations)
	staff.POST("/reservations/:id/complete", handler.handleCompleteReservation)

	return router
}

// requireRole lets a request through only when the session carries role.
func requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(codeUnauthorized, "missing session"))
			return
		}
		if !slices.Contains(claims.GetUserRoles(), role) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(codeForbidden, "staff role required"))
			return
		}
		ctx.Next()
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}
