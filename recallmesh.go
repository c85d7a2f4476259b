// Package recallmesh provides embedding-backed registries with incremental
// sync and two-stage retrieval. Most applications interact with this package
// by:
//  1. Opening a vector store (vectorstore/sqlite for durable storage,
//     vectorstore/memory for tests)
//  2. Creating an embedder (embedder/openai or embedder/ollama, optionally
//     wrapped in an embedder.AdaptiveBatcher)
//  3. Constructing a registry preset — NewToolRegistry, NewKnowledgeRegistry
//     or NewFactRegistry — and driving it with Sync and Search
//
// The presets share one generic registry.Registry; they differ only in how a
// record is rendered into embedding text, which retrieval instruction frames
// the query, and which metadata conventions apply. All defaults are safe for
// local development; production deployments typically supply a reranker and a
// structured logger.
package recallmesh

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/registry"
)

// Query instructions for the asymmetric embedding variants. Documents are
// always embedded bare; only the query side carries an instruction.
const (
	ToolQueryInstruction      = "Given a task description, retrieve tools that can be used to accomplish the task"
	KnowledgeQueryInstruction = "Given a search query, retrieve relevant passages that answer the query"
	FactQueryInstruction      = "Given a question, retrieve facts that help answer the question"
)

// NewToolRegistry creates a registry for tool and capability schemas. The
// embedding text concatenates the tool name, description and parameter names
// so a task query can recall tools by what they do.
func NewToolRegistry(store core.VectorStore, embedder core.Embedder, optFns ...func(o *registry.Options)) *registry.Registry {
	presets := []func(o *registry.Options){func(o *registry.Options) {
		o.Formatter = formatTool
		o.QueryInstruction = ToolQueryInstruction
	}}
	return registry.New("tools", store, embedder, append(presets, optFns...)...)
}

// NewKnowledgeRegistry creates a registry for documents and passages. Records
// embed as their content, optionally prefixed with a title from the payload.
func NewKnowledgeRegistry(store core.VectorStore, embedder core.Embedder, optFns ...func(o *registry.Options)) *registry.Registry {
	presets := []func(o *registry.Options){func(o *registry.Options) {
		o.Formatter = formatKnowledge
		o.QueryInstruction = KnowledgeQueryInstruction
	}}
	return registry.New("knowledge", store, embedder, append(presets, optFns...)...)
}

// NewFactRegistry creates a registry for extracted facts. Facts carry a
// confidence score in their metadata; searches drop results below the
// registry's minimum (default 0.5) unless overridden per call.
func NewFactRegistry(store core.VectorStore, embedder core.Embedder, optFns ...func(o *registry.Options)) *registry.Registry {
	presets := []func(o *registry.Options){func(o *registry.Options) {
		o.Formatter = func(r core.RawRecord) string { return r.Content }
		o.QueryInstruction = FactQueryInstruction
		o.DefaultMinConfidence = 0.5
	}}
	return registry.New("facts", store, embedder, append(presets, optFns...)...)
}

// ToolRecord builds a raw record for a tool schema. The name doubles as the
// record id, so re-registering a tool updates it in place.
func ToolRecord(name, description string, parameters map[string]any, metadata map[string]any) core.RawRecord {
	return core.RawRecord{
		ID:      name,
		Content: description,
		Payload: map[string]any{
			"name":        name,
			"description": description,
			"parameters":  parameters,
		},
		Metadata: metadata,
	}
}

// KnowledgeRecord builds a raw record for a document passage.
func KnowledgeRecord(id, title, content string, metadata map[string]any) core.RawRecord {
	return core.RawRecord{
		ID:       id,
		Content:  content,
		Payload:  map[string]any{"title": title},
		Metadata: metadata,
	}
}

// FactRecord builds a raw record for an extracted fact. Confidence lands in
// the metadata so it survives into search results and the confidence
// post-filter can see it.
func FactRecord(id, statement string, confidence float64, metadata map[string]any) core.RawRecord {
	md := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		md[k] = v
	}
	md["confidence"] = confidence
	return core.RawRecord{
		ID:       id,
		Content:  statement,
		Metadata: md,
	}
}

func formatTool(r core.RawRecord) string {
	name, _ := r.Payload["name"].(string)
	if name == "" {
		name = r.ID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Tool: %s.", name)
	if r.Content != "" {
		fmt.Fprintf(&b, " Description: %s.", r.Content)
	}
	if params, ok := r.Payload["parameters"].(map[string]any); ok && len(params) > 0 {
		names := make([]string, 0, len(params))
		for k := range params {
			names = append(names, k)
		}
		// Stable text keeps the content hash stable across syncs.
		sort.Strings(names)
		fmt.Fprintf(&b, " Parameters: %s.", strings.Join(names, ", "))
	}
	return b.String()
}

func formatKnowledge(r core.RawRecord) string {
	if title, ok := r.Payload["title"].(string); ok && title != "" {
		return title + "\n" + r.Content
	}
	return r.Content
}
