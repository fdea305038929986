// Package server exposes the knowledge service over the Model Context
// Protocol: two tools (learn_knowledge, search_knowledge) and a
// knowledge://{topic} resource template. JSON-RPC framing is handled by the
// official MCP SDK; this package only maps calls onto knowledge.Service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/knowledgelab/kbmem/knowledge"
)

// resourceScheme prefixes topic retrieval URIs: knowledge://{topic}.
const resourceScheme = "knowledge://"

// Server wraps the MCP SDK server around a knowledge.Service.
type Server struct {
	mcpServer *mcp.Server
	service   *knowledge.Service
}

// Config holds MCP server identity.
type Config struct {
	Name    string
	Version string
}

// LearnInput is the learn_knowledge tool input.
type LearnInput struct {
	Topic   string `json:"topic" jsonschema:"The category or topic of the knowledge (e.g. 'DDD', 'SOLID')"`
	Content string `json:"content" jsonschema:"The text content of the knowledge point"`
}

// SearchInput is the search_knowledge tool input.
type SearchInput struct {
	Query string `json:"query" jsonschema:"The natural language question to search for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Maximum number of results to return (default 5)"`
	Topic string `json:"topic,omitempty" jsonschema:"Optional topic to restrict the search to"`
}

// knowledgePoint is the wire form of a record in tool and resource results.
type knowledgePoint struct {
	ID        string  `json:"id"`
	Topic     string  `json:"topic"`
	Content   string  `json:"content"`
	Score     float32 `json:"score,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// New creates an MCP server for the given knowledge service.
func New(cfg Config, service *knowledge.Service) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if service == nil {
		return nil, fmt.Errorf("knowledge service is required")
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		service: service,
	}

	if err := s.register(); err != nil {
		return nil, err
	}
	return s, nil
}

// Run serves MCP on the given transport until ctx is cancelled. Blocking.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) register() error {
	learnSchema, err := jsonschema.For[LearnInput](nil)
	if err != nil {
		return fmt.Errorf("schema for learn_knowledge: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "learn_knowledge",
		Description: "Learn and store a new piece of knowledge under a topic. " +
			"Returns the id of the stored knowledge point.",
		InputSchema: learnSchema,
	}, s.learnKnowledge)

	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for search_knowledge: %w", err)
	}
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "search_knowledge",
		Description: "Search stored knowledge by semantic similarity. " +
			"Returns the most relevant knowledge points for the query.",
		InputSchema: searchSchema,
	}, s.searchKnowledge)

	s.mcpServer.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "knowledge_by_topic",
		URITemplate: resourceScheme + "{topic}",
		Description: "All knowledge points stored under the exact topic.",
		MIMEType:    "application/json",
	}, s.readTopic)

	return nil
}

// learnKnowledge handles the learn_knowledge tool call.
func (s *Server) learnKnowledge(ctx context.Context, _ *mcp.CallToolRequest, in LearnInput) (*mcp.CallToolResult, any, error) {
	rec, err := s.service.Learn(ctx, in.Topic, in.Content)
	if err != nil {
		return callerError(err)
	}

	return jsonResult(map[string]string{
		"id":     rec.ID,
		"status": "ok",
	})
}

// searchKnowledge handles the search_knowledge tool call.
func (s *Server) searchKnowledge(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	var opts []knowledge.SearchOption
	if in.TopK != 0 {
		opts = append(opts, knowledge.WithTopK(in.TopK))
	}
	if in.Topic != "" {
		opts = append(opts, knowledge.WithTopic(in.Topic))
	}

	results, err := s.service.Search(ctx, in.Query, opts...)
	if err != nil {
		return callerError(err)
	}

	points := make([]knowledgePoint, 0, len(results))
	for _, r := range results {
		points = append(points, knowledgePoint{
			ID:        r.Record.ID,
			Topic:     r.Record.Topic,
			Content:   r.Record.Content,
			Score:     r.Similarity,
			CreatedAt: r.Record.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	return jsonResult(map[string]any{"results": points})
}

// readTopic handles reads of the knowledge://{topic} resource.
func (s *Server) readTopic(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	raw, ok := strings.CutPrefix(uri, resourceScheme)
	if !ok {
		return nil, fmt.Errorf("unsupported resource URI %q", uri)
	}
	topic, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid topic in URI %q: %w", uri, err)
	}

	records, err := s.service.RetrieveByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}

	points := make([]knowledgePoint, 0, len(records))
	for _, rec := range records {
		points = append(points, knowledgePoint{
			ID:        rec.ID,
			Topic:     rec.Topic,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	payload, err := json.Marshal(map[string]any{"knowledge_points": points})
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(payload),
		}},
	}, nil
}

// callerError maps caller-correctable failures (bad input, unembeddable
// text) to tool-level errors the client sees as IsError results. Storage
// faults stay protocol errors so callers can tell the two apart.
func callerError(err error) (*mcp.CallToolResult, any, error) {
	var vErr *knowledge.ValidationError
	var eErr *knowledge.EmbeddingError
	if errors.As(err, &vErr) || errors.As(err, &eErr) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
			IsError: true,
		}, nil, nil
	}
	return nil, nil, err
}

// jsonResult marshals v into a text content tool result.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
	}, nil, nil
}
