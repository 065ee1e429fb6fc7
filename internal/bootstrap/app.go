package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gopherai-localrag/internal/ai"
	appsvc "gopherai-localrag/internal/app"
	"gopherai-localrag/internal/assistant"
	"gopherai-localrag/internal/cache"
	"gopherai-localrag/internal/config"
	"gopherai-localrag/internal/knowledge"
	"gopherai-localrag/internal/metrics"
	"gopherai-localrag/internal/pkg/logger"
	mysqlClient "gopherai-localrag/internal/platform/mysql"
	rabbitmqClient "gopherai-localrag/internal/platform/rabbitmq"
	redisClient "gopherai-localrag/internal/platform/redis"
	"gopherai-localrag/internal/reader"
	"gopherai-localrag/internal/repository"
	"gopherai-localrag/internal/runstore"
	"gopherai-localrag/internal/worker"
)

type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	MySQL         *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Publisher     *rabbitmqClient.MessagePublisher
	MessageWorker *worker.MessagePersistWorker
	Registry      *appsvc.SessionRegistry

	// NewOrchestrator builds an orchestrator wired to the shared backends.
	NewOrchestrator func() *appsvc.Orchestrator

	StartedAt time.Time
}

// New loads the configuration and connects the enabled backends. MySQL, Redis and
// RabbitMQ are optional: without MySQL runs live in memory, without RabbitMQ
// messages are written synchronously.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger.New(cfg.Log.FilePath, cfg.Log.Production),
		StartedAt: time.Now(),
	}
	metrics.Register()

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	store, sink, err := a.runStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	kb := a.knowledgeBase()
	factory := a.assistantFactory(store, sink, kb)

	var ingestor *appsvc.KnowledgeIngestor
	var knowledgeBase appsvc.KnowledgeBase
	if kb != nil {
		knowledgeBase = kb
		ingestor = appsvc.NewKnowledgeIngestor(
			&reader.PDFReader{
				ChunkSize:    cfg.Knowledge.ChunkSize,
				ChunkOverlap: cfg.Knowledge.ChunkOverlap,
				MaxBytes:     int64(cfg.Knowledge.MaxPDFBytes),
			},
			&reader.WebsiteReader{
				Client:       &http.Client{Timeout: 15 * time.Second},
				MaxLinks:     cfg.Knowledge.MaxLinks,
				MaxDepth:     cfg.Knowledge.MaxDepth,
				ChunkSize:    cfg.Knowledge.ChunkSize,
				ChunkOverlap: cfg.Knowledge.ChunkOverlap,
			},
			a.Logger.Named("ingestor"),
		)
	}

	a.NewOrchestrator = func() *appsvc.Orchestrator {
		return appsvc.NewOrchestrator(appsvc.OrchestratorDeps{
			Models:    cfg.LLM.Models,
			Factory:   factory,
			Store:     store,
			Knowledge: knowledgeBase,
			Ingestor:  ingestor,
			Logger:    a.Logger.Named("orchestrator"),
		})
	}
	a.Registry = appsvc.NewSessionRegistry(
		a.NewOrchestrator,
		cfg.LLM.DefaultModel,
		time.Duration(cfg.Session.IdleTTLMinute)*time.Minute,
		time.Duration(cfg.Session.CleanupIntervalMinute)*time.Minute,
	)

	a.Logger.Info("application ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.Strings("models", cfg.LLM.Models),
		zap.Bool("mysql", a.MySQL != nil),
		zap.Bool("redis", a.Redis != nil),
		zap.Bool("rabbitmq", a.MQConn != nil),
		zap.Bool("knowledge", kb != nil),
	)
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.MySQL.Enabled {
		db, err := mysqlClient.New(ctx, cfg.MySQLDSN())
		if err != nil {
			return err
		}
		a.MySQL = db
		if err := mysqlClient.Migrate(db); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled && a.MySQL != nil {
		cli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Logger.Warn("redis unavailable, history cache disabled", zap.Error(err))
		} else {
			a.Redis = cli
		}
	}

	if cfg.RabbitMQ.Enabled && a.MySQL != nil {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			a.Logger.Warn("rabbitmq unavailable, persisting messages synchronously", zap.Error(err))
		} else {
			a.MQConn = conn
		}
	}
	return nil
}

// runStore picks the run store and the sink the assistant persists finished turns to.
func (a *App) runStore(ctx context.Context) (appsvc.RunStore, assistant.MessageSink, error) {
	if a.MySQL == nil {
		mem := runstore.NewMemoryStore()
		return mem, mem, nil
	}

	var history runstore.HistoryCache
	if a.Redis != nil {
		history = cache.NewHistoryCache(
			a.Redis,
			time.Duration(a.Config.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(a.Config.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
	}

	messageRepo := repository.NewMessageRepository(a.MySQL)
	store := runstore.NewGormStore(
		repository.NewRunRepository(a.MySQL),
		messageRepo,
		history,
		a.Logger.Named("runstore"),
	)
	if a.MQConn == nil {
		return store, store, nil
	}

	queue := a.Config.RabbitMQ.MessagePersistQueue
	a.MessageWorker = worker.NewMessagePersistWorker(a.MQConn, messageRepo, queue, a.Logger)
	if err := a.MessageWorker.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start message worker failed: %w", err)
	}
	a.Publisher = rabbitmqClient.NewMessagePublisher(a.MQConn, queue)
	return store, runstore.NewQueuedSink(a.Publisher, history), nil
}

// knowledgeBase returns nil when the knowledge features are switched off.
func (a *App) knowledgeBase() *knowledge.VectorKnowledgeBase {
	cfg := a.Config
	if !cfg.Knowledge.Enabled {
		return nil
	}

	var chunks knowledge.ChunkStore
	switch {
	case !cfg.Knowledge.VectorStore:
	case a.MySQL != nil:
		chunks = repository.NewRAGChunkRepository(a.MySQL)
	default:
		chunks = knowledge.NewMemoryChunkStore()
	}
	return knowledge.NewVectorKnowledgeBase(
		chunks,
		ai.NewOpenAICompatibleClient(cfg.LLM.BaseURL, cfg.LLM.APIKey),
		cfg.LLM.EmbeddingModel,
		a.Logger.Named("knowledge"),
	)
}

func (a *App) assistantFactory(store appsvc.RunStore, sink assistant.MessageSink, kb *knowledge.VectorKnowledgeBase) appsvc.AssistantFactory {
	cfg := a.Config

	var streamer ai.ChatStreamer
	switch cfg.LLM.Provider {
	case "ark":
		streamer = ai.NewArkStreamer(ai.ArkConfig{
			BaseURL: cfg.LLM.BaseURL,
			Region:  cfg.LLM.Region,
			APIKey:  cfg.LLM.APIKey,
		})
	default:
		streamer = ai.NewOpenAICompatibleClient(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	}

	opts := assistant.Options{
		Streamer:   streamer,
		History:    store,
		Sink:       sink,
		TopK:       cfg.LLM.TopK,
		MaxContext: cfg.LLM.MaxContextMessage,
		Logger:     a.Logger.Named("assistant"),
	}
	if kb != nil && kb.HasVectorStore() {
		opts.Retriever = kb
	}
	factory := assistant.NewFactory(opts)

	return appsvc.AssistantFactoryFunc(func(ctx context.Context, modelName string) (appsvc.Assistant, error) {
		asst, err := factory.NewAssistant(ctx, modelName)
		if err != nil {
			return nil, err
		}
		return asst, nil
	})
}

func (a *App) Close() error {
	var closeErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
