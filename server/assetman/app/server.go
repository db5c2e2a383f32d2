package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	assetapi "assethub/server/assetman/api"
	"assethub/server/assetman/repository"
	"assethub/server/assetman/service"
	commonauth "assethub/server/common/auth"
	"assethub/server/common/infra/cache"
	"assethub/server/common/infra/db"
	"assethub/server/common/infra/object"
)

type Config struct {
	Port          string
	JWTSecret     string
	JWTTTLMinutes int

	AdminUsername     string
	AdminPasswordHash string

	PostgresDSN string
	RedisAddr   string

	MinioEndpoint    string
	MinioAccessKey   string
	MinioSecretKey   string
	MinioUseSSL      bool
	StagingBucket    string
	PermanentBucket  string
	DerivativeBucket string

	UploadURLTTL     time.Duration
	GlobalMaxSizeMB  int64
	DefaultMaxSizeMB int64
	DefaultTypes     []string
	UploadLimitsJSON string
}

type Server struct {
	HTTPServer *http.Server
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Hub        *service.Hub
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

	limits, err := uploadLimits(cfg)
	if err != nil {
		return nil, err
	}

	assetRepo := repository.NewAssetRepository(dbPool)
	uploadSvc := service.NewUploadService(store, limits, cfg.UploadURLTTL)
	assetSvc := service.NewAssetService(assetRepo, store)
	hub := service.NewHub(redisClient)
	authSvc := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)

	h := assetapi.NewHandler(uploadSvc, assetSvc, hub, authSvc, assetapi.AdminCredential{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
	})
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{HTTPServer: httpServer, DB: dbPool, Redis: redisClient, Hub: hub}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.Hub.Stop()
	if s.DB != nil {
		s.DB.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}

// uploadLimits builds the per-category upload policy. UploadLimitsJSON has
// the shape {"product": {"max_size_mb": 10, "allowed_types": ["image/jpeg"]}}.
func uploadLimits(cfg Config) (service.UploadLimits, error) {
	limits := service.UploadLimits{
		GlobalMaxBytes: cfg.GlobalMaxSizeMB * 1024 * 1024,
		Default: service.CategoryLimit{
			MaxBytes:     cfg.DefaultMaxSizeMB * 1024 * 1024,
			AllowedTypes: cfg.DefaultTypes,
		},
		PerCategory: map[string]service.CategoryLimit{},
	}
	if strings.TrimSpace(cfg.UploadLimitsJSON) == "" {
		return limits, nil
	}

	var raw map[string]struct {
		MaxSizeMB    int64    `json:"max_size_mb"`
		AllowedTypes []string `json:"allowed_types"`
	}
	if err := json.Unmarshal([]byte(cfg.UploadLimitsJSON), &raw); err != nil {
		return service.UploadLimits{}, fmt.Errorf("parse upload limits: %w", err)
	}
	for category, limit := range raw {
		allowedTypes := limit.AllowedTypes
		if len(allowedTypes) == 0 {
			allowedTypes = cfg.DefaultTypes
		}
		limits.PerCategory[category] = service.CategoryLimit{
			MaxBytes:     limit.MaxSizeMB * 1024 * 1024,
			AllowedTypes: allowedTypes,
		}
	}
	return limits, nil
}
