package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"assethub/server/assetman/repository"
	"assethub/server/common/infra/cache"
	"assethub/server/common/infra/db"
	"assethub/server/common/infra/mq"
	"assethub/server/common/infra/object"
	thumbapi "assethub/server/thumbman/api"
	"assethub/server/thumbman/domain"
	"assethub/server/thumbman/service"
)

type Config struct {
	Port string

	PostgresDSN string
	RedisAddr   string
	AMQPURL     string

	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioUseSSL      bool
	StagingBucket    string
	PermanentBucket  string
	DerivativeBucket string

	WebhookSecret     string
	GenerationTimeout time.Duration
	EventDedupTTL     time.Duration
	Sizes             []domain.SizeSpec
}

type Server struct {
	HTTPServer *http.Server
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Consumer   *service.AMQPConsumer
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}

	minioClient, err := object.NewClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		return nil, fmt.Errorf("initialize minio: %w", err)
	}
	store := object.NewMinIOStore(minioClient, object.Buckets{
		Staging:    cfg.StagingBucket,
		Permanent:  cfg.PermanentBucket,
		Derivative: cfg.DerivativeBucket,
	})
	if err := store.EnsureBuckets(ctx); err != nil {
		return nil, err
	}

	redisClient := cache.NewClient(cfg.RedisAddr)
	if err := cache.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("initialize redis: %w", err)
	}

	assetRepo := repository.NewAssetRepository(dbPool)
	generator := service.NewDerivativeService(store, cfg.Sizes)
	deduper := service.NewRedisDeduper(redisClient, cfg.EventDedupTTL)
	notifier := service.NewRedisNotifier(redisClient)
	ingress := service.NewIngressService(assetRepo, generator, deduper, notifier, cfg.PermanentBucket, cfg.GenerationTimeout)

	var consumer *service.AMQPConsumer
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		conn, err := mq.NewConnection(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("initialize amqp: %w", err)
		}
		consumer, err = service.NewAMQPConsumer(conn, ingress)
		if err != nil {
			return nil, fmt.Errorf("initialize amqp consumer: %w", err)
		}
	}

	h := thumbapi.NewHandler(ingress, cfg.WebhookSecret)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, DB: dbPool, Redis: redisClient, Consumer: consumer}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Consumer != nil {
		s.Consumer.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
