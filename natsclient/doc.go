// Package natsclient wraps a NATS connection for the canvas host: connect
// with a circuit breaker, publish canvas events, and manage the JetStream
// key-value buckets that hold flow documents.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := client.ConnectWithRetry(ctx, retry.Quick()); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
//	    Bucket:  "flowcanvas_documents",
//	    History: 10,
//	})
//	kv := natsclient.NewKVStore(bucket, logger)
//
// The circuit opens after a run of failed calls and rejects further calls
// with ErrCircuitOpen until its backoff elapses on the client's clock.
package natsclient
