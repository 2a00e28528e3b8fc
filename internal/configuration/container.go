package configuration

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/db"
	"github.com/Phuc-Java/forum-sub000/internal/feed"
	"github.com/Phuc-Java/forum-sub000/internal/handler"
	"github.com/Phuc-Java/forum-sub000/internal/hub"
	"github.com/Phuc-Java/forum-sub000/internal/model"
	"github.com/Phuc-Java/forum-sub000/internal/repo"
	"github.com/Phuc-Java/forum-sub000/internal/service"
	"github.com/Phuc-Java/forum-sub000/internal/transport"
)

type Container struct {
	CallHandler    handler.CallHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Watcher        *feed.Watcher
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
}

func BuildContainer(configPath string) (*Container, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	con, err := db.OpenConnection(config.CallDatabase.Uri, config.CallDatabase.Database)
	if err != nil {
		return nil, err
	}

	logger, _ := zap.NewProduction()

	sessionRepo := repo.NewSessionRepository(con, config.CallDatabase.SessionsCollection, logger)
	conversationRepo := repo.NewConversationRepository(con, config.CallDatabase.ConversationsCollection, logger)
	historyRepo := db.NewRepository[model.CallSession](con, config.CallDatabase.SessionsCollection)

	media := transport.NewLiveKit(
		config.LiveKit.ApiKey,
		config.LiveKit.ApiSecret,
		config.LiveKit.WsUrl,
		time.Duration(config.LiveKit.TokenTTLMinutes)*time.Minute,
		logger,
	)

	callService := service.NewCallService(historyRepo, sessionRepo)

	// Hub fans feed events out to every connected client's reconciler
	Hub := hub.NewHub(sessionRepo, conversationRepo, media, logger)
	watcher := feed.NewWatcher(con, config.CallDatabase.SessionsCollection, Hub, logger)
	watcher.Start()

	monitorService := hub.NewMonitorService(Hub, watcher.Alive)

	callHandler := handler.NewCallHandler(callService, media)
	monitorHandler := handler.NewMonitorHandler(monitorService)

	return &Container{
		CallHandler:    callHandler,
		MonitorHandler: monitorHandler,
		Hub:            Hub,
		Watcher:        watcher,
		Config:         *config,
		Logger:         logger,
		mongoClient:    con,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the feed first so clients see no events after teardown begins
	if c.Watcher != nil {
		c.Watcher.Stop()
	}

	// Stop the hub (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
