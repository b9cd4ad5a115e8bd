// Package engine provides the worker's job queue engine: a FIFO of pending
// jobs, the progress of the job currently running and a history of results,
// driven by a single sequential execution loop.
package engine
