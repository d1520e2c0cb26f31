// Package flowstore persists canvas documents.
//
// Four Store implementations share one contract: KVStore keeps documents
// in a NATS JetStream key-value bucket, PostgresStore keeps them as JSONB
// rows, RedisStore keeps one hash per document, and MemoryStore keeps them
// in process for tests and local runs. Instrument and NewCached wrap any of
// them.
//
// Every store uses optimistic concurrency. Create sets Version to 1 and
// Update succeeds only when the caller's Version matches the stored one,
// incrementing it on success. A stale Version fails with errors.ErrConflict;
// a missing document fails with errors.ErrNotFound.
//
//	doc := &model.Document{Name: "welcome journey", Nodes: nodes}
//	if err := store.Create(ctx, doc); err != nil {
//	    return err
//	}
//	doc.Name = "welcome journey v2"
//	if err := store.Update(ctx, doc); errors.Is(err, errors.ErrConflict) {
//	    // reload and reapply
//	}
//
// Raw documents from outside the process go through Decode, which checks
// them against the embedded JSON schema before unmarshalling.
package flowstore
