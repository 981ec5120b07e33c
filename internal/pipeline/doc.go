// Package pipeline executes business requests under a concurrency bound,
// serving repeated identical requests from a TTL-bounded result cache.
// Strategies are pluggable per request kind; the default strategy echoes.
package pipeline
