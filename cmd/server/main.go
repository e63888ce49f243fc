package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-booking/internal/booking"
	"github.com/iliyamo/bus-seat-booking/internal/config"
	"github.com/iliyamo/bus-seat-booking/internal/database"
	"github.com/iliyamo/bus-seat-booking/internal/handler"
	"github.com/iliyamo/bus-seat-booking/internal/middleware"
	"github.com/iliyamo/bus-seat-booking/internal/payment"
	"github.com/iliyamo/bus-seat-booking/internal/queue"
	"github.com/iliyamo/bus-seat-booking/internal/repository"
	"github.com/iliyamo/bus-seat-booking/internal/router"
	"github.com/iliyamo/bus-seat-booking/internal/seatlock"
	"github.com/iliyamo/bus-seat-booking/internal/seatmap"
	"github.com/iliyamo/bus-seat-booking/internal/service"
	"github.com/iliyamo/bus-seat-booking/internal/sweeper"
)

// stores bundles the repositories chosen by STORE_DRIVER.
type stores struct {
	db       *sql.DB
	trips    seatlock.TripSource
	bookings interface {
		booking.Bookings
		seatlock.SeatOwners
	}
	payments booking.Payments
	vouchers booking.Vouchers
}

func openStores(cfg config.StoreConfig) stores {
	if cfg.Driver == config.DriverMemory {
		log.Printf("store: in-memory (data is lost on restart)")
		mem := repository.NewMemory()
		return stores{trips: mem.Trips, bookings: mem.Bookings, payments: mem.Payments, vouchers: mem.Vouchers}
	}
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	if cfg.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("db migrate: %v", err)
		}
	}
	return stores{
		db:       db,
		trips:    repository.NewTripRepo(db),
		bookings: repository.NewBookingRepo(db),
		payments: repository.NewPaymentRepo(db),
		vouchers: repository.NewVoucherRepo(db),
	}
}

var errSeatMapRedis = errors.New("SEATMAP_DRIVER=redis but redis is unreachable")

// openSeatMap never falls back to memory when redis was asked for.
func openSeatMap(cfg config.SeatMapConfig, rdb *redis.Client) (seatmap.Store, error) {
	if cfg.Driver == config.DriverRedis {
		if rdb == nil {
			return nil, errSeatMapRedis
		}
		log.Printf("seat map: redis (prefix %q)", cfg.Prefix)
		return seatmap.NewRedisStore(rdb, cfg.Prefix, nil), nil
	}
	return seatmap.NewMemoryStore(nil), nil
}

func gateways(cfg config.PaymentConfig) *payment.Registry {
	reg := payment.NewRegistry()
	if !cfg.Enabled() {
		log.Printf("payment: no gateway configured, only cash on departure is accepted")
		return reg
	}
	gw, err := payment.NewHostedGateway(cfg.GatewayURL, cfg.ReturnURL, cfg.CallbackSecret)
	if err != nil {
		log.Fatalf("payment gateway: %v", err)
	}
	reg.Register(gw, cfg.Methods...)
	log.Printf("payment: hosted gateway for %v", reg.Methods())
	return reg
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}
	cfg := config.Load()

	st := openStores(cfg.Store)
	if st.db != nil {
		defer st.db.Close()
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis: unavailable; rate limiting, caching and idempotency are disabled")
	} else {
		defer rdb.Close()
	}
	seats, err := openSeatMap(cfg.SeatMap, rdb)
	if err != nil {
		log.Fatalf("seat map: %v", err)
	}

	refunds, err := booking.ParseRefundTiers(cfg.Booking.RefundTiers)
	if err != nil {
		log.Fatalf("REFUND_TIERS: %v", err)
	}

	var pub booking.Publisher
	if cfg.Events.Enabled {
		p := service.NewPublisher(cfg.Events.URL)
		defer p.Close()
		pub = p
	}

	locks := seatlock.NewManager(seats, st.trips, st.bookings, seatlock.Options{
		HoldTTL:     cfg.Booking.HoldTTL,
		SeatsPerRow: cfg.SeatMap.SeatsPerRow,
	})
	wf := booking.New(seats, locks, st.bookings, st.payments, st.vouchers, gateways(cfg.Payment), pub, booking.Options{
		PaymentWindow: cfg.Booking.PaymentWindow,
		Refunds:       refunds,
		CODEnabled:    cfg.Booking.CODEnabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sweeper.New(seats, wf, cfg.Booking.SweepInterval).RetireTrips(locks).Run(ctx)
	}()
	if cfg.Events.Enabled && cfg.Events.RunConsumer {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = queue.NewAuditConsumer(cfg.Events.URL, cfg.Events.AuditLog).Run(ctx)
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	var mw router.PublicMiddleware
	if rdb != nil {
		mw = router.PublicMiddleware{
			RateLimit:   middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
			Cache:       middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
			Idempotency: middleware.Idempotency(rdb, "idempotency"),
		}
	}
	health := &handler.HealthHandler{}
	if st.db != nil {
		health.DB = st.db
	}
	router.RegisterRoutes(e, health)
	router.RegisterPublic(e, handler.NewTripHandler(locks), handler.NewBookingHandler(wf), handler.NewPaymentHandler(wf), mw)
	router.RegisterOperator(e, handler.NewOperatorHandler(wf), cfg.JWTSecret)

	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	wg.Wait()
}
