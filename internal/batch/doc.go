// Package batch defines the core types shared across the pdfbatch pipeline:
// input rows, task states, per-row outcomes, the batch result, and the
// consumer-side interfaces (task service, clock) that let the orchestrator be
// exercised against test doubles.
package batch
