// Package meinrag provides an embedded Go client for the meinrag retrieval
// pipeline. It wires the same services the HTTP server uses, so a Go
// application can ingest documents and retrieve passages in-process without
// running the API server.
//
//	client, _ := meinrag.New(ctx,
//	    meinrag.WithEmbedder(embedder),
//	    meinrag.WithVectorDimensions(1024),
//	)
//	defer client.Close()
//
//	client.ReplaceDocument(ctx, "tenant-a", "handbook", []string{"hr"}, passages)
//	results, _ := client.Retrieve(ctx, meinrag.RetrieveRequest{
//	    Owner: "tenant-a",
//	    Query: "how many vacation days do I get",
//	    TopK:  4,
//	})
//
// By default passages live in an in-process index. WithValkey or WithRedis
// switches to a RediSearch-backed HNSW index shared across processes.
package meinrag
