package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"dentaldir/internal/config"
	"dentaldir/internal/db"
	"dentaldir/internal/email"
	apihttp "dentaldir/internal/http"
	"dentaldir/internal/repository"
	"dentaldir/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	userRepo := repository.NewPgUserRepository(pool)
	conversationRepo := repository.NewPgConversationRepository(pool)
	messageRepo := repository.NewPgMessageRepository(pool)
	counterRepo := repository.NewPgCounterRepository(pool)
	favoriteRepo := repository.NewPgFavoriteRepository(pool)

	notifier := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			notifier = sender
		}
	}

	sendWindow := time.Duration(cfg.SendRateWindowSeconds) * time.Second
	var (
		sendLimiter = service.NewSendRateLimiter(sendWindow, cfg.SendRateMax)
		tokenStore  service.RefreshTokenStore
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			sendLimiter = service.NewRedisSendRateLimiter(redisClient, sendWindow, cfg.SendRateMax)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	identity := service.NewDirectoryIdentity(userRepo)
	userSvc := service.NewUserService(logger, userRepo)
	messagingSvc := service.NewMessagingService(
		logger,
		conversationRepo,
		messageRepo,
		counterRepo,
		userRepo,
		identity,
		sendLimiter,
		notifier,
		cfg.MessageMonthlyLimit,
	)
	favoriteSvc := service.NewFavoriteService(favoriteRepo, identity)

	authHandler := apihttp.NewAuthHandler(logger, userSvc, jwtSvc)
	messagingHandler := apihttp.NewMessagingHandler(logger, messagingSvc)
	favoriteHandler := apihttp.NewFavoriteHandler(logger, favoriteSvc)
	router := apihttp.NewRouter(logger, jwtSvc, authHandler, messagingHandler, favoriteHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
