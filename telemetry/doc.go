// Package telemetry builds the process logger and the OpenTelemetry tracer
// provider.
package telemetry
