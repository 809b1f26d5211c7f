// Package tkgengine is the temporal knowledge-graph memory engine: a
// single Engine façade wiring the graph store, entity resolver, ingestion
// pipeline, retrieval engine, and sleep engine behind the public operations
// add_episode/search/traverse/get_node/get_edge/delete_node/delete_edge/
// sleep/start_auto_sleep/stop_auto_sleep.
package tkgengine

import (
	"context"
	"log/slog"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/embedder"
	"github.com/soundprediction/tkgengine/pkg/ingestion"
	"github.com/soundprediction/tkgengine/pkg/llm"
	"github.com/soundprediction/tkgengine/pkg/resolver"
	"github.com/soundprediction/tkgengine/pkg/retrieval"
	"github.com/soundprediction/tkgengine/pkg/sleep"
	"github.com/soundprediction/tkgengine/pkg/types"
)

// DefaultGroupID is used for add_episode/search/traverse calls that omit
// group_id.
const DefaultGroupID = "default"

// Engine is the public façade over the graph driver, resolver, ingestion
// pipeline, retrieval engine, and sleep engine.
type Engine struct {
	graph     driver.GraphDriver
	embedder  embedder.Client
	llmClient llm.Client

	resolver  *resolver.Resolver
	ingestion *ingestion.Pipeline
	retrieval *retrieval.Engine
	sleep     *sleep.Engine
	scheduler *sleep.Scheduler
}

// New wires the engine around the given graph driver, embedder, and LLM client.
// audit may be nil to disable Parquet export from sleep calls; log may
// be nil to use slog's default handler.
func New(graph driver.GraphDriver, emb embedder.Client, llmClient llm.Client, audit *sleep.AuditWriter, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}

	res := resolver.New(graph, emb, llmClient)
	ing := ingestion.New(graph, emb, llmClient, res)
	ret := retrieval.New(graph, emb)
	slp := sleep.New(graph, emb, llmClient, audit, log)

	e := &Engine{
		graph:     graph,
		embedder:  emb,
		llmClient: llmClient,
		resolver:  res,
		ingestion: ing,
		retrieval: ret,
		sleep:     slp,
	}
	e.scheduler = sleep.NewScheduler(slp)
	return e
}

// AddEpisode runs the ingestion pipeline over one episode of content.
func (e *Engine) AddEpisode(ctx context.Context, params types.AddEpisodeParams) (*types.EpisodicNode, error) {
	if params.GroupID == "" {
		params.GroupID = DefaultGroupID
	}
	return e.ingestion.AddEpisode(ctx, params)
}

// Search runs the retrieval engine's similarity/community/graph-expansion/
// temporal-rerank pipeline.
func (e *Engine) Search(ctx context.Context, params types.SearchParams) ([]types.ScoredNode, error) {
	if params.GroupID == "" {
		params.GroupID = DefaultGroupID
	}
	return e.retrieval.Search(ctx, params)
}

// Traverse resolves a start entity and returns its induced subgraph.
func (e *Engine) Traverse(ctx context.Context, params types.TraverseParams) (*types.Subgraph, error) {
	if params.GroupID == "" {
		params.GroupID = DefaultGroupID
	}
	return e.retrieval.Traverse(ctx, params)
}

// GetNode resolves a node by uuid regardless of label, returning (nil, nil)
// when absent.
func (e *Engine) GetNode(ctx context.Context, uuid, groupID string) (types.Node, error) {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return e.graph.GetNode(ctx, uuid, groupID)
}

// GetEdge resolves an edge by uuid regardless of label, returning (nil, nil)
// when absent.
func (e *Engine) GetEdge(ctx context.Context, uuid, groupID string) (types.Edge, error) {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return e.graph.GetEdge(ctx, uuid, groupID)
}

// DeleteNode detaches and removes a node by uuid.
func (e *Engine) DeleteNode(ctx context.Context, uuid, groupID string) error {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return e.graph.DeleteNode(ctx, uuid, groupID)
}

// DeleteEdge removes an edge by uuid.
func (e *Engine) DeleteEdge(ctx context.Context, uuid, groupID string) error {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	return e.graph.DeleteEdge(ctx, uuid, groupID)
}

// Sleep runs one consolidation/pruning/community-detection cycle.
func (e *Engine) Sleep(ctx context.Context, target types.SleepTarget, options types.SleepOptions) (types.SleepReport, error) {
	return e.sleep.Sleep(ctx, target, options)
}

// StartAutoSleep begins a daily background sleep schedule.
// Calling it again replaces the previous schedule.
func (e *Engine) StartAutoSleep(cfg types.AutoSleepConfig) {
	e.scheduler.Start(cfg)
}

// StopAutoSleep cancels the background sleep schedule, if any.
func (e *Engine) StopAutoSleep() {
	e.scheduler.Stop()
}

// Close releases the embedder, LLM client, and graph driver.
func (e *Engine) Close(ctx context.Context) error {
	e.scheduler.Stop()
	if err := e.embedder.Close(); err != nil {
		return err
	}
	if err := e.llmClient.Close(); err != nil {
		return err
	}
	return e.graph.Close(ctx)
}
