package app

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nekogravitycat/rental-booking-backend/internal/api"
	"github.com/nekogravitycat/rental-booking-backend/internal/auth"
	"github.com/nekogravitycat/rental-booking-backend/internal/availability"
	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
	"github.com/nekogravitycat/rental-booking-backend/internal/config"
	"github.com/nekogravitycat/rental-booking-backend/internal/db"
	"github.com/nekogravitycat/rental-booking-backend/internal/event"
	"github.com/nekogravitycat/rental-booking-backend/internal/jobs"
	"github.com/nekogravitycat/rental-booking-backend/internal/payment"
	"github.com/nekogravitycat/rental-booking-backend/internal/property"
	"github.com/nekogravitycat/rental-booking-backend/internal/user"
)

const (
	jwtTTL          = time.Hour
	eventBufferSize = 1024
)

// Container holds the initialized components that are needed externally.
type Container struct {
	Router         *gin.Engine
	JWTManager     *auth.JWTManager
	BookingService booking.Service
	PaymentService payment.Service
	Scheduler      *jobs.Scheduler

	// background holds the broker loops started by Run.
	background []func(ctx context.Context)
}

// NewContainer initializes all modules and returns the container.
// redisClient may be nil, which disables rate limiting.
func NewContainer(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	c := &Container{}

	// Init Components
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, jwtTTL)
	txManager := db.NewTxManager(pool)

	var publisher event.Publisher = event.LogPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher := event.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsExchange, eventBufferSize)
		c.background = append(c.background, amqpPublisher.Run)
		publisher = amqpPublisher
	}

	var processor payment.Processor = payment.SandboxProcessor{}
	if cfg.PaymentAPIURL != "" {
		processor = payment.NewHTTPProcessor(cfg.PaymentAPIURL, cfg.PaymentAPIKey)
	} else {
		log.Println("app: PAYMENT_API_URL not set, using sandbox processor")
	}

	// User Module
	userService := user.NewService(user.NewPgxRepository(pool))

	// Property Module
	propertyService := property.NewService(property.NewPgxRepository(pool))

	// Booking Module
	bookingRepo := booking.NewPgxRepository(pool)
	availabilityService := availability.NewService(propertyService, bookingRepo)

	paymentRepo := payment.NewPgxRepository(pool)
	hooks := payment.NewBookingHooks(paymentRepo)

	bookingService := booking.NewService(
		bookingRepo, txManager, availabilityService, propertyService, userService, publisher,
		booking.WithRefunds(hooks),
		booking.WithDisputes(hooks),
	)

	// Payment Module
	paymentService := payment.NewService(paymentRepo, txManager, bookingService, processor)

	if cfg.AMQPURL != "" {
		consumer := event.NewConsumer(cfg.AMQPURL, cfg.ProviderEventsQueue, paymentService.HandleMessage, db.IsTransient)
		c.background = append(c.background, consumer.Run)
	}

	// Jobs
	scheduler, err := jobs.NewScheduler(cfg, bookingService, paymentService)
	if err != nil {
		return nil, err
	}

	// Router
	c.Router = api.NewRouter(api.Config{
		IsProduction:        cfg.IsProduction,
		ProdOrigins:         cfg.ProdOrigins,
		WebhookSecret:       cfg.PaymentWebhookSecret,
		RateLimit:           cfg.RateLimit,
		Redis:               redisClient,
		UserService:         userService,
		AvailabilityService: availabilityService,
		BookingService:      bookingService,
		PaymentService:      paymentService,
		JWTManager:          jwtManager,
	})
	c.JWTManager = jwtManager
	c.BookingService = bookingService
	c.PaymentService = paymentService
	c.Scheduler = scheduler

	return c, nil
}

// RunBackground starts the broker loops. They stop when ctx is cancelled.
func (c *Container) RunBackground(ctx context.Context) {
	for _, run := range c.background {
		go run(ctx)
	}
}
