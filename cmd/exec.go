package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"direct-booking/config"
	"direct-booking/internal/gateway"
	"direct-booking/internal/handlers"
	"direct-booking/internal/logging"
	"direct-booking/internal/notify"
	"direct-booking/internal/services"
	"direct-booking/internal/store"
	_ "direct-booking/migrations"
	"direct-booking/monitoring"
	"direct-booking/security"
	"direct-booking/utils"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go/v7"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	monitorInterval = 30 * time.Second
	sweepInterval   = 10 * time.Minute
)

// engine holds everything the HTTP surface and the background workers share.
type engine struct {
	cfg        *config.Config
	redis      *redis.Client
	pubnub     *pubnub.PubNub
	store      store.Store
	processed  services.ProcessedEventStore
	dispatcher *notify.Dispatcher
	bookings   *services.BookingService
	reconciler *services.PaymentEventReconciler
}

func Start() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	isDev := cfg.Server.Environment == "development"
	app := pocketbase.NewWithConfig(pocketbase.Config{DefaultDev: isDev})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := newEngine(ctx, cfg, app)
	if err != nil {
		return err
	}
	defer eng.close()

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: isDev,
	})
	app.RootCmd.AddCommand(newSweepCommand(eng))

	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		if err := eng.dispatcher.Run(ctx); err != nil {
			return err
		}
		eng.startWorkers(ctx)
		registerRoutes(ctx, se, eng)

		logging.Info().
			Str("environment", cfg.Server.Environment).
			Str("backends", describeBackends(cfg)).
			Msg("server routes registered")
		return se.Next()
	})

	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		cancel()
		return e.Next()
	})

	return app.Start()
}

func newEngine(ctx context.Context, cfg *config.Config, app core.App) (*engine, error) {
	eng := &engine{cfg: cfg, store: store.NewPocketBaseStore(app)}

	if cfg.Redis.URL != "" {
		client, err := utils.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		eng.redis = client
	}

	if cfg.PubNub.Enabled() {
		pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNub.UserID))
		pnCfg.PublishKey = cfg.PubNub.PublishKey
		pnCfg.SubscribeKey = cfg.PubNub.SubscribeKey
		pnCfg.SecretKey = cfg.PubNub.SecretKey
		eng.pubnub = pubnub.NewPubNub(pnCfg)
	}

	locker, err := eng.newLocker()
	if err != nil {
		eng.close()
		return nil, err
	}

	eng.processed, err = eng.newEventStore()
	if err != nil {
		eng.close()
		return nil, err
	}

	sinks := []notify.Sink{notify.NewRecordSink(app), notify.LogSink{}}
	if eng.pubnub != nil {
		sinks = append(sinks, notify.NewPubNubSink(notify.NewPubNubPublisher(eng.pubnub)))
	}
	eng.dispatcher, err = notify.NewDispatcher(cfg.Notify, nil, sinks...)
	if err != nil {
		eng.close()
		return nil, err
	}

	eng.bookings = services.NewBookingService(eng.store, locker, eng.dispatcher, services.BookingConfig{
		MaxStayNights:       cfg.Booking.MaxStayNights,
		MaxGuestsPerBooking: cfg.Booking.MaxGuestsPerBooking,
		Location:            cfg.Location(),
		PhoneRegion:         cfg.Booking.PhoneRegion,
		StoreTimeout:        cfg.Booking.StoreTimeout,
		LockTimeout:         cfg.Booking.LockTimeout,
	})
	eng.reconciler = services.NewPaymentEventReconciler(eng.bookings, eng.processed, cfg.Payments.ProcessTimeout)

	return eng, nil
}

func (eng *engine) newLocker() (services.Locker, error) {
	switch eng.cfg.Booking.Locker {
	case "redis":
		if eng.redis == nil {
			return nil, errors.New("booking.locker is redis but redis.url is empty")
		}
		return services.NewRedisLocker(eng.redis, eng.cfg.Booking.LockTTL), nil
	default:
		return services.NewMemoryLocker(), nil
	}
}

func (eng *engine) newEventStore() (services.ProcessedEventStore, error) {
	switch eng.cfg.Dedup.Backend {
	case "redis":
		if eng.redis == nil {
			return nil, errors.New("dedup.backend is redis but redis.url is empty")
		}
		return services.NewRedisEventStore(eng.redis, eng.cfg.Dedup.TTL), nil
	case "badger":
		return services.OpenBadgerEventStore(eng.cfg.Dedup.Path, eng.cfg.Dedup.TTL)
	default:
		return services.NewMemoryEventStore(eng.cfg.Dedup.TTL), nil
	}
}

func (eng *engine) startWorkers(ctx context.Context) {
	go monitoring.NewMonitor(eng.store, eng.redis).Run(ctx, monitorInterval)
	go eng.sweepLoop(ctx)

	if eng.pubnub != nil && eng.cfg.Payments.GatewayChannel != "" {
		gateway.NewFeed(eng.pubnub, eng.cfg.Payments.GatewayChannel, eng.reconciler).Start(ctx)
	}
}

func (eng *engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := eng.sweep(ctx); err != nil {
				logging.Warn().Err(err).Msg("booking sweep failed")
			}
		}
	}
}

// sweep expires abandoned pending bookings and completes finished stays.
func (eng *engine) sweep(ctx context.Context) error {
	expired, expireErr := eng.bookings.ExpireAbandoned(ctx, eng.cfg.Booking.AbandonAfter)
	completed, completeErr := eng.bookings.CompleteStays(ctx, eng.bookings.Today())

	logging.Info().
		Int("expired", expired.Changed).
		Int("completed", completed.Changed).
		Msg("booking sweep finished")

	return errors.Join(expireErr, completeErr)
}

func (eng *engine) close() {
	if eng.dispatcher != nil {
		if err := eng.dispatcher.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close notification dispatcher")
		}
	}
	if eng.processed != nil {
		if err := eng.processed.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close processed event store")
		}
	}
	if eng.redis != nil {
		_ = eng.redis.Close()
	}
}

func registerRoutes(ctx context.Context, se *core.ServeEvent, eng *engine) {
	bookingHandler := handlers.NewBookingHandler(eng.bookings)
	paymentHandler := handlers.NewPaymentHandler(eng.reconciler)
	healthHandler := handlers.NewHealthHandler(eng.redis)

	v1 := se.Router.Group("/api/v1")

	bookings := v1.Group("/bookings")
	if !eng.cfg.Security.RateLimitDisabled {
		bookings.BindFunc(security.Middleware(eng.newRateLimiter(ctx), "bookings", nil))
	}
	bookings.POST("", bookingHandler.CreateBooking).BindFunc(security.AntiBot())
	bookings.GET("/{id}", bookingHandler.GetBooking)
	bookings.POST("/{id}/accept", bookingHandler.AcceptBooking)
	bookings.POST("/{id}/decline", bookingHandler.DeclineBooking)
	bookings.POST("/{id}/cancel", bookingHandler.CancelBooking)
	bookings.POST("/{id}/payment-reference", bookingHandler.AttachPaymentReference)

	v1.GET("/properties/{id}/availability", bookingHandler.CheckAvailability)

	// The webhook is not rate limited.
	v1.POST("/payments/webhook", paymentHandler.Webhook)

	se.Router.GET("/health", healthHandler.Health)
	se.Router.GET("/metrics", apis.WrapStdHandler(promhttp.Handler()))
}

func (eng *engine) newRateLimiter(ctx context.Context) security.Limiter {
	sec := eng.cfg.Security
	if eng.redis != nil {
		return security.NewRedisRateLimiter(eng.redis, sec.RateLimitRequests, sec.RateLimitWindow)
	}
	l := security.NewLocalRateLimiter(sec.RateLimitRequests, sec.RateLimitWindow)
	go l.Run(ctx, time.Minute, time.Hour)
	return l
}

func describeBackends(cfg *config.Config) string {
	return fmt.Sprintf("locker=%s dedup=%s pubnub=%t", cfg.Booking.Locker, cfg.Dedup.Backend, cfg.PubNub.Enabled())
}
