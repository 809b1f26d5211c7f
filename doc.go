// Package tkgengine provides a temporal knowledge graph memory engine for
// LLM agents.
//
// tkgengine ingests episodes of text, resolves entities, and tracks when
// relations between them became true or stopped being true, so that an
// agent can later search or traverse the graph and get back facts that
// were true at a given point in time, not just the latest overwrite. A
// background sleep cycle periodically consolidates entity summaries,
// merges duplicate entities, and rebuilds topic communities.
//
// # Basic Usage
//
// Create an Engine from a graph driver, an LLM client, and an embedder:
//
//	graphDriver, err := driver.NewNeo4jDriver("bolt://localhost:7687", "neo4j", "password", "neo4j")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer graphDriver.Close(ctx)
//
//	llmClient, err := llm.NewOpenAIClient(llm.Config{Model: "gpt-4o-mini", APIKey: apiKey})
//	embClient, err := embedder.NewOpenAIEmbedder(apiKey, embedder.Config{Model: "text-embedding-3-small"})
//
//	eng := tkgengine.New(graphDriver, embClient, llmClient, nil, nil)
//
// # Adding Episodes
//
//	episode, err := eng.AddEpisode(ctx, types.AddEpisodeParams{
//		Content: "Alice joined Acme Corp as an engineer.",
//		GroupID: "my-group",
//	})
//
// # Searching
//
//	results, err := eng.Search(ctx, types.SearchParams{Query: "Alice's employer", GroupID: "my-group"})
//
// # Sleep
//
//	report, err := eng.Sleep(ctx, types.SleepTarget{GroupID: "my-group"}, types.SleepOptions{})
package tkgengine
