package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/popupshop/internal/httpapi"
	"github.com/MarkoPoloResearchLab/popupshop/internal/observability"
	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/redis/go-redis/v9"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Run boots the HTTP and gRPC surfaces and blocks until ctx is cancelled or a listener fails.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := NewLogger(cfg.Environment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}
	service, err := newBookingService(cfg, store, logger, metrics)
	if err != nil {
		return err
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	rateLimiter, closeRedis, err := newRateLimiter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	router := httpapi.NewRouter(httpapi.Dependencies{
		Service:        service,
		Logger:         logger,
		Validator:      validator,
		Metrics:        metrics,
		RateLimiter:    rateLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminRole:      cfg.AdminRole,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpListener, err := net.Listen("tcp", cfg.HTTPListenAddr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		_ = httpListener.Close()
		return fmt.Errorf("grpc listen: %w", err)
	}
	grpcServer := grpcserver.NewServer(service, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server starting", zap.String("listen_addr", httpListener.Addr().String()))
		if serveErr := httpServer.Serve(httpListener); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", serveErr)
		}
	}()
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", grpcListener.Addr().String()))
		if serveErr := grpcServer.Serve(grpcListener); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc serve: %w", serveErr)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("http shutdown error", zap.Error(shutdownErr))
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	return runErr
}

func newBookingService(cfg Config, store booking.Store, logger *zap.Logger, metrics *observability.Metrics) (*booking.Service, error) {
	numbers, err := booking.NewReservationNumberGenerator(cfg.ReservationPrefix)
	if err != nil {
		return nil, fmt.Errorf("reservation numbers: %w", err)
	}
	service, err := booking.NewService(store, time.Now,
		booking.WithOperationLogger(booking.JoinOperationLoggers(observability.NewZapOperationLogger(logger), metrics)),
		booking.WithLocation(cfg.Location()),
		booking.WithReservationNumbers(numbers),
	)
	if err != nil {
		return nil, fmt.Errorf("booking service init: %w", err)
	}
	return service, nil
}

// newRateLimiter returns a nil limiter when no Redis URL is configured.
func newRateLimiter(ctx context.Context, cfg Config, logger *zap.Logger) (*httpapi.RateLimiter, func(), error) {
	if cfg.RedisURL == "" {
		return nil, func() {}, nil
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		logger.Warn("redis unreachable; rate limiting fails open until it recovers", zap.Error(pingErr))
	}
	limiter, err := httpapi.NewRateLimiter(client, httpapi.RateLimitConfig{
		Capacity:       cfg.RateLimitCapacity,
		RefillTokens:   cfg.RateLimitRefillTokens,
		RefillInterval: cfg.RateLimitRefillInterval,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return limiter, func() { _ = client.Close() }, nil
}
