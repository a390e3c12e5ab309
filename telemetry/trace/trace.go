//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

// Package trace provides tracing handles for the canopy engine.
// It integrates with OpenTelemetry; the default provider is a noop so that
// tracing stays free until an SDK provider is installed.
package trace

import (
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// instrumentationName identifies spans produced by this module.
const instrumentationName = "github.com/canopyai/canopy"

// TracerProvider is the global tracer provider for telemetry.
var TracerProvider trace.TracerProvider = noop.NewTracerProvider()

// Tracer is the global tracer instance for telemetry.
var Tracer trace.Tracer = TracerProvider.Tracer(instrumentationName)

// SetTracerProvider installs a tracer provider, replacing the noop default.
// Call it once during startup before any runs are launched.
func SetTracerProvider(tp trace.TracerProvider) {
	TracerProvider = tp
	Tracer = tp.Tracer(instrumentationName)
}
