// kbmem is an MCP server that stores short knowledge snippets tagged with a
// topic and retrieves them by semantic similarity or exact topic match.
// It speaks MCP over stdio; logs go to stderr.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/knowledgelab/kbmem/config"
	"github.com/knowledgelab/kbmem/knowledge"
	"github.com/knowledgelab/kbmem/knowledge/embedder/mock"
	openaiembed "github.com/knowledgelab/kbmem/knowledge/embedder/openai"
	"github.com/knowledgelab/kbmem/knowledge/store/chromem"
	"github.com/knowledgelab/kbmem/server"
)

const version = "0.2.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("[KBMEM] %v", err)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	embedder, closeEmbedder, err := buildEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer func() {
		if err := closeEmbedder(); err != nil {
			log.Printf("[KBMEM] Embedder close error: %v", err)
		}
	}()
	log.Printf("[KBMEM] Embedder ready: provider=%s dims=%d", cfg.Embedder, embedder.Dimensions())

	store, err := chromem.New(ctx, chromem.Config{
		Path:       cfg.DataDir,
		Collection: cfg.Collection,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("[KBMEM] Store close error: %v", err)
		}
	}()

	service, err := knowledge.NewService(store, embedder, knowledge.Config{
		DefaultTopK:  cfg.TopK,
		CacheEntries: cfg.EmbedCacheEntries,
	})
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	srv, err := server.New(server.Config{
		Name:    "kbmem",
		Version: version,
	}, service)
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	log.Printf("[KBMEM] MCP server ready: version=%s transport=stdio records=%d", version, store.Count())
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server: %w", err)
	}

	log.Printf("[KBMEM] Shut down")
	return nil
}

// buildEmbedder selects the embedding backend from config. The returned
// close function releases backend resources (a no-op for API embedders).
func buildEmbedder(cfg *config.Config) (knowledge.Embedder, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Embedder {
	case config.EmbedderMock:
		return mock.New(), noop, nil
	case config.EmbedderOpenAI:
		return openaiembed.New(openaiembed.Config{
			Model:      cfg.OpenAIModel,
			Dimensions: cfg.OpenAIDimensions,
		}), noop, nil
	case config.EmbedderONNX:
		return buildONNXEmbedder(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
}
