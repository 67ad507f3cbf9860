package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"certguide/internal/ai"
	"certguide/internal/app"
	"certguide/internal/cache"
	"certguide/internal/config"
	"certguide/internal/knowledge"
	"certguide/internal/model"
	"certguide/internal/pkg/tfidf"
	"certguide/internal/platform/logger"
	mysqlClient "certguide/internal/platform/mysql"
	rabbitmqClient "certguide/internal/platform/rabbitmq"
	redisClient "certguide/internal/platform/redis"
	"certguide/internal/repository"
	"certguide/internal/retrieval"
	"certguide/internal/vectorindex"
	"certguide/internal/worker"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Publisher     *rabbitmqClient.MessagePublisher
	MessageWorker *worker.MessagePersistWorker

	RAG       *app.RAGService
	Chat      *app.ChatService
	Auth      *app.AuthService
	Generator *ai.Generator

	StartedAt time.Time
}

// NewRAG builds the retrieval core from configuration and restores the last
// snapshot. It needs no external services.
func NewRAG(cfg *config.Config, log *slog.Logger) (*app.RAGService, error) {
	base, err := knowledge.Load(cfg.RAG.KnowledgeBasePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("knowledge base file not found, continuing without it", "path", cfg.RAG.KnowledgeBasePath)
		base = &knowledge.Base{}
	case err != nil:
		return nil, fmt.Errorf("load knowledge base failed: %w", err)
	}

	vcfg := tfidf.DefaultConfig()
	vcfg.MaxFeatures = cfg.RAG.MaxFeatures

	kb, err := knowledge.NewIndex(base, vcfg, log)
	if err != nil {
		return nil, fmt.Errorf("build knowledge index failed: %w", err)
	}
	strategy, err := retrieval.ParseStrategy(cfg.RAG.MergeStrategy)
	if err != nil {
		return nil, err
	}

	index := vectorindex.New(vectorindex.Options{Vectorizer: vcfg, Logger: log})
	retriever := retrieval.New(index, kb, retrieval.Options{
		VectorThreshold: cfg.RAG.VectorThreshold,
		ContextTopK:     cfg.RAG.TopK,
		Strategy:        strategy,
		Logger:          log,
	})
	rag := app.NewRAGService(index, kb, retriever, vectorindex.NewFileSnapshotStore(cfg.RAG.SnapshotPath), app.RAGConfig{
		ChunkSize:        cfg.RAG.ChunkSize,
		ChunkOverlap:     cfg.RAG.ChunkOverlap,
		PagesPerBatch:    cfg.RAG.PagesPerBatch,
		MaxPDFBytes:      cfg.RAG.MaxPDFBytes,
		MaxContextLength: cfg.RAG.MaxContextLength,
	}, log)
	if err := rag.Load(); err != nil {
		return nil, fmt.Errorf("load vector index snapshot failed: %w", err)
	}

	stats := rag.Stats()
	log.Info("retrieval core ready",
		"faqs", len(base.FAQ),
		"documentation", len(base.Documentation),
		"vector_documents", stats.ActiveDocuments,
		"merge_strategy", strategy,
	)
	return rag, nil
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	a := &App{Config: cfg, Logger: log, StartedAt: time.Now()}
	if a.RAG, err = NewRAG(cfg, log); err != nil {
		return nil, err
	}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	userRepo := repository.NewUserRepository(a.MySQL)
	messageRepo := repository.NewMessageRepository(a.MySQL)

	a.MessageWorker = worker.NewMessagePersistWorker(a.MQConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue, log)
	if err := a.MessageWorker.Start(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}
	a.Publisher = rabbitmqClient.NewMessagePublisher(a.MQConn, cfg.RabbitMQ.MessagePersistQueue)

	a.Auth = app.NewAuthService(userRepo, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute, log)
	if cfg.Auth.SeedDemoUsers {
		if err := a.Auth.SeedDemoUsers(app.DemoUsers); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("seed demo users failed: %w", err)
		}
	}

	a.Generator = ai.NewGenerator(
		ai.NewOpenAICompatibleClient(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		ai.ChatConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	)
	if cfg.LLM.APIKey == "" {
		log.Warn("OPENAI_API_KEY not set, chat answers use the rule-based fallback")
	}

	historyCache := cache.NewHistoryCache(
		a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)
	a.Chat = app.NewChatService(a.RAG, a.Generator, a.Publisher, historyCache, messageRepo, app.ChatConfig{
		MaxMessageLength: cfg.RAG.MaxMessageLength,
		MaxContextLength: cfg.RAG.MaxContextLength,
		RetrievedTopK:    cfg.RAG.TopK,
		FallbackTopK:     cfg.RAG.FallbackTopK,
	}, log)

	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	var err error
	if a.MySQL, err = mysqlClient.New(ctx, a.Config); err != nil {
		return err
	}
	if err := a.MySQL.AutoMigrate(&model.User{}, &model.Message{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	if a.Redis, err = redisClient.New(ctx, a.Config.Redis); err != nil {
		return err
	}
	if a.MQConn, err = rabbitmqClient.New(ctx, a.Config.RabbitMQ.URL, a.Config.RabbitMQ.MessagePersistQueue); err != nil {
		return err
	}
	return nil
}

// Close saves the vector index snapshot and releases every connection.
func (a *App) Close() error {
	var errs []error
	if a.RAG != nil {
		if err := a.RAG.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save vector index snapshot failed: %w", err))
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MySQL != nil {
		if sqlDB, err := a.MySQL.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
