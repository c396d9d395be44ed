// Package telemetry provides the OpenTelemetry tracer plumbing used by the
// workflow executors. This package is internal and should not be imported
// by external projects.
package telemetry
