// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"

	"github.com/absmach/coapcore/pkg/errors"
)

// ErrNoSvcName indicates NewProvider was called without a service
// name, mirroring the teacher's internal/clients/jaeger.NewProvider
// validation.
var ErrNoSvcName = errors.New("service name is empty")

// NewProvider builds a TracerProvider tagged with svcName and
// instanceID, sampling at traceRatio (1.0 samples every span), in the
// same shape as the teacher's jaeger.NewProvider — minus the Jaeger/
// OTLP exporter wiring, since no example repo in the retrieval pack
// carries that dependency; spans are produced and can be attached to
// any SpanExporter via tracesdk.WithBatcher by the caller.
func NewProvider(svcName, instanceID string, traceRatio float64) (*tracesdk.TracerProvider, error) {
	if svcName == "" {
		return nil, ErrNoSvcName
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", svcName),
			attribute.String("service.instance.id", instanceID),
		),
	)
	if err != nil {
		return nil, err
	}

	sampler := tracesdk.AlwaysSample()
	if traceRatio < 1 {
		sampler = tracesdk.TraceIDRatioBased(traceRatio)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(sampler),
		tracesdk.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}
