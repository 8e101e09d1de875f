// Package ha is the client for a replicated SQLite-compatible database.
//
// A DataSource owns the server coordinates and, when configured, a shared
// registry of locally mirrored read-only replica files. Each Connection it
// hands out is one logical session: statements classified as reads are
// served from a local replica whenever the replica has durably applied
// everything the session has seen the server confirm; everything else goes
// to the server over a streaming RPC.
//
// The freshness rule gives read-your-writes within a session: every remote
// write advances the session's observed write sequence, and a read only
// uses the replica when the replica's applied sequence has caught up.
// Across sessions, stale replica reads are possible by design.
//
// Example:
//
//	ds, err := ha.NewDataSource("litesql://localhost:8080/app.db",
//	    ha.WithToken(os.Getenv("LITESQL_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	conn, err := ds.Connect(context.Background())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close()
//
//	result, err := conn.Query(context.Background(), "SELECT 1 AS value")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, row := range result.Rows {
//	    fmt.Println(row)
//	}
package ha
