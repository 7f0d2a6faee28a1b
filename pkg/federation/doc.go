// Package federation polls federated instances for their published
// moderation (domain-block) lists. It provides instance domain validation,
// a single-request moderation fetcher that never fails the run, a bounded
// fan-out scheduler that yields outcomes in completion order, and the
// Prometheus metrics for a crawl.
package federation
