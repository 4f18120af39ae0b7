package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/gorilla/mux"

	"chiba-chatbot/config"
	"chiba-chatbot/internal/db"
	"chiba-chatbot/internal/handlers"
	"chiba-chatbot/internal/repositories"
	"chiba-chatbot/internal/routes"
	"chiba-chatbot/internal/services"
)

// corsMiddleware adds CORS headers to all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewServer wires the serving path: provider clients, the loaded vector
// index, the chat history store, and the HTTP surface. It fails when the
// persisted index is missing so a half-configured process never accepts
// traffic.
func NewServer(cfg *config.Config) (*http.Server, error) {
	logger := log.New(os.Stdout, "[SERVER] ", log.LstdFlags)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is not configured (set OPENAI_API_KEY)")
	}

	openaiClient := services.NewOpenAIClient(services.OpenAIConfig{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKey:         cfg.OpenAI.APIKey,
		ChatModel:      cfg.OpenAI.ChatModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Temperature:    cfg.OpenAI.Temperature,
	})

	// The vector index must exist before traffic is accepted
	vectorRepo, err := connectChroma(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	indexService := services.NewIndexService(openaiClient, vectorRepo, services.IndexConfig{
		Collection: cfg.Index.Collection,
		TopK:       cfg.Index.TopK,
	}, logger)

	if err := indexService.Load(ctx); err != nil {
		return nil, fmt.Errorf("cannot serve without a persisted index (run with -ingest first): %w", err)
	}

	ragService := services.NewRAGService(openaiClient, indexService, logger)

	// The chat history store is optional: without it the server still
	// answers questions, it just cannot persist or replay conversations
	historyRepo := connectRedis(ctx, cfg, logger)

	chatHandler := handlers.NewChatHandler(ragService, historyRepo, logger)
	historyHandler := handlers.NewHistoryHandler(historyRepo, logger)

	h := &routes.Handlers{
		Health:  handlers.HealthCheckHandler,
		Home:    handlers.HomeHandler,
		Chat:    chatHandler,
		History: historyHandler,
	}

	router := mux.NewRouter()
	routes.RegisterRoutes(router, h)

	// Swagger UI
	router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", cfg.Server.Port)),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
		httpSwagger.DomID("swagger-ui"),
	))

	logger.Printf("Server configured on port %d (collection: %s, top_k: %d)",
		cfg.Server.Port, cfg.Index.Collection, cfg.Index.TopK)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: corsMiddleware(router),
	}, nil
}

// NewIndexBuilder wires the one-time ingestion/build path
func NewIndexBuilder(cfg *config.Config) (*services.IngestService, *services.IndexService, error) {
	logger := log.New(os.Stdout, "[INGEST] ", log.LstdFlags)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cfg.OpenAI.APIKey == "" {
		return nil, nil, fmt.Errorf("OpenAI API key is not configured (set OPENAI_API_KEY)")
	}

	openaiClient := services.NewOpenAIClient(services.OpenAIConfig{
		BaseURL:        cfg.OpenAI.BaseURL,
		APIKey:         cfg.OpenAI.APIKey,
		ChatModel:      cfg.OpenAI.ChatModel,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		Temperature:    cfg.OpenAI.Temperature,
	})

	vectorRepo, err := connectChroma(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	ingestService := services.NewIngestService(services.IngestConfig{
		URLs:               cfg.Ingest.URLs,
		ChunkSize:          cfg.Ingest.ChunkSize,
		ChunkOverlap:       cfg.Ingest.ChunkOverlap,
		FetchConcurrency:   cfg.Ingest.FetchConcurrency,
		InsecureSkipVerify: cfg.Ingest.InsecureSkipVerify,
		ExtractKeywords:    cfg.Ingest.ExtractKeywords,
	}, logger)

	indexService := services.NewIndexService(openaiClient, vectorRepo, services.IndexConfig{
		Collection: cfg.Index.Collection,
		TopK:       cfg.Index.TopK,
	}, logger)

	return ingestService, indexService, nil
}

// connectChroma connects the vector repository and verifies the store is up
func connectChroma(ctx context.Context, cfg *config.Config, logger *log.Logger) (repositories.VectorRepository, error) {
	logger.Printf("Connecting to ChromaDB: %s:%d", cfg.Chroma.Host, cfg.Chroma.Port)

	chromaClient := db.NewChromaDBClient(db.ChromaDBConfig{
		Host:     cfg.Chroma.Host,
		Port:     cfg.Chroma.Port,
		Tenant:   cfg.Chroma.Tenant,
		Database: cfg.Chroma.Database,
	})

	if err := chromaClient.Heartbeat(ctx); err != nil {
		return nil, fmt.Errorf("ChromaDB connection failed: %w", err)
	}

	return repositories.NewChromaVectorRepository(chromaClient), nil
}

// connectRedis connects the chat history store; a failure degrades to
// history-less serving rather than refusing to start
func connectRedis(ctx context.Context, cfg *config.Config, logger *log.Logger) repositories.ChatHistoryRepository {
	logger.Printf("Connecting to Redis: %s:%d (DB: %d)", cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DB)

	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Printf("Failed to create Redis client: %v", err)
		logger.Println("Chat history persistence disabled")
		return nil
	}

	if err := redisClient.Ping(ctx); err != nil {
		logger.Printf("Redis connection failed: %v", err)
		logger.Println("Chat history persistence disabled")
		return nil
	}

	return repositories.NewRedisChatHistoryRepository(redisClient.GetClient())
}
