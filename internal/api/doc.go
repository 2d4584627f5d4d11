// Package api implements the HTTP client for the dmcrypt server boundary:
// the public-key directory (read/publish directory entries) and the message
// relay (post/fetch opaque ciphertext blobs). Requests carry the host
// application's bearer session token and are retried with exponential
// backoff and jitter on transient failures.
package api
