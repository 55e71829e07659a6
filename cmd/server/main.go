package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/codex-arbiter/internal/chunker"
	"github.com/MereWhiplash/codex-arbiter/internal/collection"
	"github.com/MereWhiplash/codex-arbiter/internal/embedder"
	"github.com/MereWhiplash/codex-arbiter/internal/service"
	"github.com/MereWhiplash/codex-arbiter/internal/tools"
)

// version is set by goreleaser via ldflags
var version = "dev"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	godotenv.Load()

	// Collection flags
	driver := flag.String("collection-driver", envOr("CA_COLLECTION_DRIVER", "local"), "Collection driver: local, sqlite, postgres, mongodb")
	dataDir := flag.String("data-dir", envOr("CA_DATA_DIR", ".arbiter"), "Directory for the local collection (local driver)")
	dbPath := flag.String("db-path", envOr("CA_DB_PATH", ".arbiter/chunks.db"), "Path to SQLite database (sqlite driver)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("CA_POSTGRES_DSN"), "PostgreSQL connection string (postgres driver)")
	mongoURI := flag.String("mongodb-uri", os.Getenv("CA_MONGODB_URI"), "MongoDB connection URI (mongodb driver)")
	mongoDatabase := flag.String("mongodb-database", envOr("CA_MONGODB_DATABASE", "arbiter"), "MongoDB database name (mongodb driver)")

	// Embedder flags
	ollamaURL := flag.String("ollama-url", envOr("CA_OLLAMA_URL", "http://localhost:11434"), "Ollama API URL")
	embeddingModel := flag.String("embedding-model", envOr("CA_EMBEDDING_MODEL", embedder.DefaultEmbedModel), "Ollama embedding model")
	generateModel := flag.String("generate-model", envOr("CA_GENERATE_MODEL", embedder.DefaultGenerateModel), "Ollama generation model (empty to disable analysis, reranking, and answers)")
	dimension := flag.Int("dimension", embedder.DefaultDimension, "Embedding dimension")

	// Chunking flags
	chunkSize := flag.Int("chunk-size", chunker.DefaultChunkSize, "Target plain-text chunk size in characters")
	chunkOverlap := flag.Int("chunk-overlap", chunker.DefaultChunkOverlap, "Plain-text chunk overlap in characters")
	rowBatch := flag.Int("row-batch", chunker.DefaultRowBatchSize, "Rows per data chunk for tabular documents")
	skipEmpty := flag.Bool("skip-empty", false, "Skip empty documents during batch ingestion instead of aborting")

	// CLI mode flags
	statsFlag := flag.Bool("stats", false, "Print collection statistics and exit (CLI mode)")
	versionFlag := flag.Bool("version", false, "Print version and exit")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("ca-server %s\n", version)
		return
	}

	ctx := context.Background()

	cfg := collection.Config{
		Driver:          *driver,
		Dimension:       *dimension,
		LocalDir:        *dataDir,
		SQLitePath:      *dbPath,
		PostgresDSN:     *postgresDSN,
		MongoDBURI:      *mongoURI,
		MongoDBDatabase: *mongoDatabase,
	}

	if *statsFlag {
		if err := runStats(ctx, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
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

	chunkCfg := chunker.DefaultConfig()
	chunkCfg.ChunkSize = *chunkSize
	chunkCfg.ChunkOverlap = *chunkOverlap
	chunkCfg.RowBatchSize = *rowBatch

	svcCfg := service.Config{
		ChunkConfig: &chunkCfg,
		SkipEmpty:   *skipEmpty,
	}
	if *generateModel != "" {
		svcCfg.Generator = emb
	}
	svc := service.New(col, emb, svcCfg)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "codex-arbiter",
		Version: version,
	}, nil)

	tools.Register(server, svc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	log.Println("Starting Codex Arbiter MCP server...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func runStats(ctx context.Context, cfg collection.Config) error {
	col, err := collection.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open collection: %w", err)
	}
	defer col.Close()

	stats, err := col.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	fmt.Printf("driver:    %s\n", stats.Driver)
	fmt.Printf("chunks:    %d\n", stats.Chunks)
	fmt.Printf("documents: %d\n", stats.Documents)
	fmt.Printf("dimension: %d\n", stats.Dimension)
	return nil
}
