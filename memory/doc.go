// Package memory provides a semantic text memory: text is saved under a
// named collection together with an embedding, and later retrieved by key
// or by similarity to a free-text query.
//
// Architecture:
//   - Embedder: Text-to-vector conversion (OpenAI, Ollama, Gemini, local ONNX, mock)
//   - Store: Collection registry handing out per-collection indexes (in-memory, chromem-go, SQLite)
//   - Collection: Vector index for one collection (upsert, get, remove, nearest-neighbor search)
//   - SemanticTextMemory: Façade combining an Embedder and a Store
//
// Variants:
//   - SemanticMemory: the real engine
//   - NullMemory: stores nothing, used when memory is disabled
//
// Search results are ranked by cosine similarity, filtered by a minimum
// relevance and truncated to a limit. Equal scores keep insertion order.
// Every operation takes a context.Context; a cancelled context aborts the
// operation and is reported as cancellation, not as a failure.
package memory
