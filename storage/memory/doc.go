// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
//
// The store enforces per-key atomicity for ConsumeCode and ConsumeToken by
// performing check-and-delete under a single write lock, which makes it the
// reference implementation for the single-use guarantees on authorization
// codes and refresh tokens.
//
// A background goroutine removes expired codes and tokens; call Stop when the
// store is no longer needed.
package memory
