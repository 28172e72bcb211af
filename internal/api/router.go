package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/nekogravitycat/rental-booking-backend/internal/auth"
	"github.com/nekogravitycat/rental-booking-backend/internal/availability"
	availabilityHttp "github.com/nekogravitycat/rental-booking-backend/internal/availability/http"
	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
	bookingHttp "github.com/nekogravitycat/rental-booking-backend/internal/booking/http"
	"github.com/nekogravitycat/rental-booking-backend/internal/config"
	"github.com/nekogravitycat/rental-booking-backend/internal/payment"
	paymentHttp "github.com/nekogravitycat/rental-booking-backend/internal/payment/http"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/rental-booking-backend/internal/ratelimit"
	"github.com/nekogravitycat/rental-booking-backend/internal/user"
	userHttp "github.com/nekogravitycat/rental-booking-backend/internal/user/http"
)

// Config holds the services and settings the router is assembled from.
type Config struct {
	IsProduction  bool
	ProdOrigins   string
	WebhookSecret string
	RateLimit     config.RateLimitConfig
	Redis         *redis.Client

	UserService         user.Service
	AvailabilityService availability.Service
	BookingService      booking.Service
	PaymentService      payment.Service
	JWTManager          *auth.JWTManager
}

// NewRouter initializes the HTTP router engine.
// It is responsible for assembling middleware (CORS, Logger, Auth) and registering routes for various modules.
func NewRouter(cfg Config) *gin.Engine {
	if err := request.RegisterValidators(); err != nil {
		log.Fatalf("failed to register validators: %v", err)
	}

	if cfg.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// Global Middleware:
	// - Logger: Logs request information to the console.
	// - Recovery: Captures panics to prevent server crashes and returns a 500 error.
	r.Use(gin.Logger(), gin.Recovery())

	// Configure CORS (Cross-Origin Resource Sharing).
	corsConfig := cors.DefaultConfig()
	if cfg.IsProduction && cfg.ProdOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.ProdOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000", "http://localhost:8081"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))

	// authMiddleware: Validates if the request contains a valid JWT.
	authMiddleware := auth.AuthRequired(cfg.JWTManager)
	// sysAdminMiddleware: Further checks if the authenticated user has System Admin privileges.
	sysAdminMiddleware := RequireSystemAdmin(cfg.UserService)

	bookingLimiter := ratelimit.TokenBucket(cfg.RateLimit, cfg.Redis, "bookings")
	webhookLimiter := ratelimit.TokenBucket(cfg.RateLimit, cfg.Redis, "webhooks")

	// Initialize HTTP Handlers for each module (injecting Service dependencies).
	userHandler := userHttp.NewHandler(cfg.UserService)
	availabilityHandler := availabilityHttp.NewHandler(cfg.AvailabilityService)
	bookingHandler := bookingHttp.NewHandler(cfg.BookingService)
	paymentHandler := paymentHttp.NewHandler(cfg.PaymentService, cfg.WebhookSecret)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Register API routes under /v1
	v1 := r.Group("/v1")
	{
		userHttp.RegisterRoutes(v1, userHandler, authMiddleware)
		availabilityHttp.RegisterRoutes(v1, availabilityHandler)
		bookingHttp.RegisterRoutes(v1, bookingHandler, authMiddleware, bookingLimiter)
		paymentHttp.RegisterRoutes(v1, paymentHandler, authMiddleware, sysAdminMiddleware, webhookLimiter)
	}

	return r
}
