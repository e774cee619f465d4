package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"user_console/internal/config"
	"user_console/internal/console"
	"user_console/internal/handler"
	"user_console/internal/middleware"
	"user_console/internal/query"
	"user_console/internal/queue"
	"user_console/internal/session"
	"user_console/internal/user"
	"user_console/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

func main() {
	configFile := flag.String("config", "", "optional env-format config file")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.WithField("level", cfg.LogLevel).Warn("Unknown log level, keeping info")
	}
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	api, err := user.NewHTTPClient(user.ClientConfig{
		BaseURL:      cfg.APIBaseURL,
		Token:        cfg.APIToken,
		Timeout:      cfg.APITimeout,
		UpdateMethod: cfg.APIUpdateMethod,
	})
	if err != nil {
		logrus.WithError(err).Fatal("Invalid user API configuration")
	}

	// identifies this process on the invalidation exchange
	replicaID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store session.Store = session.NewMemoryStore(cfg.SessionTTL)
	var limiter gin.HandlerFunc
	if cfg.RedisEnabled() {
		rdb, err := session.SetupRedis(cfg)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logrus.WithError(err).Error("Failed to close redis connection")
			}
		}()

		store = session.NewRedisStore(rdb, cfg.SessionTTL)
		limiter, err = middleware.RateLimiterMiddleware(rdb, &middleware.RateLimiterConfig{
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefillRate,
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to set up rate limiter")
		}
	} else {
		logrus.Info("Redis not configured, keeping sessions in memory without rate limiting")
	}

	var conn *amqp.Connection
	var broadcaster console.Broadcaster
	if cfg.RabbitMQEnabled() {
		conn, err = queue.SetupRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to RabbitMQ")
		}
		defer func() {
			if err := conn.Close(); err != nil {
				logrus.WithError(err).Error("Failed to close RabbitMQ connection")
			}
		}()

		publishChannel, err := queue.CreateChannel(conn)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to create RabbitMQ channel")
		}
		if err := queue.DeclareExchange(publishChannel, cfg.RabbitMQExchange); err != nil {
			logrus.WithError(err).Fatal("Failed to declare RabbitMQ exchange")
		}
		broadcaster = queue.NewBroadcaster(publishChannel, cfg.RabbitMQExchange, replicaID)
	} else {
		logrus.Info("RabbitMQ not configured, cache invalidations stay local")
	}

	svc := console.NewService(api, console.Options{
		Query: query.Options{
			RefetchInterval: cfg.RefetchInterval,
			Retry:           cfg.Retry,
			RetryDelay:      query.ExponentialBackoff(time.Second, cfg.RetryMaxDelay),
		},
		SuccessTTL:  cfg.SuccessTTL,
		Broadcaster: broadcaster,
	})
	defer svc.Close()
	go svc.Run(ctx)

	if conn != nil {
		consumer := worker.NewInvalidationConsumer(svc, cfg.RabbitMQExchange, replicaID)
		go func() {
			if err := consumer.Start(ctx, conn); err != nil {
				logrus.WithError(err).Error("Invalidation consumer stopped")
			}
		}()
	}

	r := handler.SetupHandler(handler.Deps{
		Service: svc,
		Store:   store,
		Session: middleware.SessionConfig{
			CookieName: cfg.SessionCookie,
			TTL:        cfg.SessionTTL,
			Secure:     cfg.AppEnv == "production",
		},
		Limiter:         limiter,
		RefetchInterval: cfg.RefetchInterval,
		PendingTimeout:  cfg.APITimeout,
	})

	// Expose /metrics endpoint for Prometheus to scrape
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	logrus.Info("Metrics endpoint exposed at /metrics")

	srv := &http.Server{
		Addr:    cfg.AppPort,
		Handler: r,
	}

	go func() {
		logrus.WithFields(logrus.Fields{
			"app":  cfg.AppName,
			"addr": cfg.AppPort,
			"api":  cfg.APIBaseURL,
		}).Info("Starting console")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
}
