// Package knowledge implements the RAG memory core: short text snippets
// tagged with a topic, embedded at insert time, retrieved either by semantic
// similarity or by exact topic match.
//
// Architecture:
//   - Store: vector storage backend (chromem-go, embedded and persistent)
//   - Embedder: text-to-vector conversion (mock for tests, OpenAI API,
//     or local ONNX all-MiniLM-L6-v2)
//   - Service: orchestrates Embedder + Store behind the three operations
//     exposed over MCP (learn_knowledge, search_knowledge,
//     retrieve_all_by_topic)
//
// The store is append-only: records are never updated or deleted, which
// keeps the concurrency model a single write lock with concurrent readers.
package knowledge
