// Package backend keeps the orchestrator's registry of worker backends and
// the HTTP client used to talk to them: queue status queries, job dispatch
// and worker self-registration.
package backend
