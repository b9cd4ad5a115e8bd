// Package dispatch provides the orchestrator's master queue and the
// scheduler loop that pushes queued jobs to registered backends up to the
// spare capacity each backend reports.
package dispatch
