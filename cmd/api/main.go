// cmd/api/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/MereWhiplash/codex-arbiter/internal/api"
	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/embedder"
	"github.com/MereWhiplash/codex-arbiter/internal/service"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	// Server flags
	addr := flag.String("addr", envOr("CA_ADDR", ":8080"), "Server address")

	// Collection flags (no local driver for the API server - shared backends only)
	driver := flag.String("collection-driver", envOr("CA_COLLECTION_DRIVER", "postgres"), "Collection driver: sqlite, postgres, mongodb")
	dbPath := flag.String("db-path", envOr("CA_DB_PATH", ".arbiter/chunks.db"), "Path to SQLite database (sqlite driver)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("CA_POSTGRES_DSN"), "PostgreSQL connection string")
	mongoURI := flag.String("mongodb-uri", os.Getenv("CA_MONGODB_URI"), "MongoDB connection URI")
	mongoDatabase := flag.String("mongodb-database", envOr("CA_MONGODB_DATABASE", "arbiter"), "MongoDB database name")

	// Embedder flags
	ollamaURL := flag.String("ollama-url", envOr("CA_OLLAMA_URL", "http://localhost:11434"), "Ollama API URL")
	embeddingModel := flag.String("embedding-model", envOr("CA_EMBEDDING_MODEL", embedder.DefaultEmbedModel), "Ollama embedding model")
	generateModel := flag.String("generate-model", envOr("CA_GENERATE_MODEL", embedder.DefaultGenerateModel), "Ollama generation model (empty to disable analysis, reranking, and answers)")
	dimension := flag.Int("dimension", embedder.DefaultDimension, "Embedding dimension")

	// Rate limiting flags
	rateLimit := flag.Int("rate-limit", 100, "Requests per minute per IP (0 to disable)")

	// CORS flags
	corsOrigins := flag.String("cors-origins", os.Getenv("CA_CORS_ORIGINS"), "Comma-separated list of allowed CORS origins (empty to disable)")

	flag.Parse()

	ctx := context.Background()

	cfg := collection.Config{
		Driver:          *driver,
		Dimension:       *dimension,
		SQLitePath:      *dbPath,
		PostgresDSN:     *postgresDSN,
		MongoDBURI:      *mongoURI,
		MongoDBDatabase: *mongoDatabase,
	}

	if cfg.Driver == "local" {
		log.Fatal("local collection not supported for the API server - use sqlite, postgres, or mongodb")
	}

	col, err := collection.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open collection: %v", err)
	}
	defer col.Close()

	embOpts := []embedder.Option{embedder.WithDimension(*dimension)}
	if *generateModel != "" {
		embOpts = append(embOpts, embedder.WithGenerateModel(*generateModel))
	}
	emb := embedder.NewOllama(*ollamaURL, *embeddingModel, embOpts...)

	svcCfg := service.Config{}
	if *generateModel != "" {
		svcCfg.Generator = emb
	}
	svc := service.New(col, emb, svcCfg)

	handlers := api.NewHandlers(svc)

	// Health check verifies collection connectivity
	handlers.SetHealthCheck(func() error {
		_, err := col.Stats(context.Background())
		return err
	})

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(api.RequestID)
	r.Use(api.MaxBodySize)

	// Rate limiting (if enabled)
	if *rateLimit > 0 {
		limiter := api.NewRateLimiter(*rateLimit, time.Minute)
		r.Use(limiter.Middleware)
	}

	// CORS (if enabled)
	if *corsOrigins != "" {
		origins := strings.Split(*corsOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		r.Use(api.CORSMiddleware(origins))
	}

	// Routes
	r.Get("/health", handlers.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents", handlers.Ingest)
		r.Post("/documents/batch", handlers.IngestBatch)
		r.Get("/documents/{id}/chunks", handlers.ListChunks)
		r.Delete("/documents/{id}", handlers.RemoveDocument)
		r.Get("/chunks/{id}", handlers.GetChunk)
		r.Post("/query", handlers.Query)
		r.Post("/answer", handlers.Answer)
		r.Get("/stats", handlers.Stats)
	})

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}

		close(done)
	}()

	log.Printf("Starting API server on %s", *addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	<-done
	fmt.Println("Server stopped")
}
