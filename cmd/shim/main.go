// cmd/shim/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MereWhiplash/codex-arbiter/internal/client"
	"github.com/MereWhiplash/codex-arbiter/internal/shim"
)

var version = "dev"

func main() {
	godotenv.Load()

	apiURL := flag.String("api-url", "", "Central API URL (required)")
	flag.Parse()

	// Check for env var if flag not set
	if *apiURL == "" {
		*apiURL = os.Getenv("CA_API_URL")
	}

	if *apiURL == "" {
		log.Fatal("API URL required: use --api-url or CA_API_URL environment variable")
	}

	apiClient := client.New(*apiURL)

	handler := shim.NewHandler(apiClient)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "codex-arbiter",
		Version: version,
	}, nil)

	shim.Register(server, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down...")
		cancel()
	}()

	log.Println("Starting Codex Arbiter shim...")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
