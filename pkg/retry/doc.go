// Package retry runs an operation with exponential backoff.
//
// Delays are scheduled on a scheduler.Clock so callers can drive them with a
// manual clock in tests. An error wrapped with Permanent stops the loop at
// once.
//
//	err := retry.Do(ctx, retry.Quick(), func(int) error {
//	    return client.Connect(ctx)
//	})
package retry
