package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown := Setup(Options{ServiceName: "frontdesk-service"})
	require.NoError(t, shutdown(context.Background()))
}

func TestResourceAttributesDescribeClinic(t *testing.T) {
	attrs := resourceAttributes(Options{
		ServiceName:    "frontdesk-service",
		Environment:    "staging",
		ClinicTimezone: "Asia/Manila",
	})
	assert.Contains(t, attrs, semconv.ServiceName("frontdesk-service"))
	assert.Contains(t, attrs, semconv.DeploymentEnvironment("staging"))
	assert.Contains(t, attrs, attribute.String("clinic.timezone", "Asia/Manila"))

	assert.Len(t, resourceAttributes(Options{ServiceName: "frontdesk-service"}), 1)
}

func TestSamplerRatio(t *testing.T) {
	assert.True(t, strings.Contains(sampler(0).Description(), "AlwaysOnSampler"))
	assert.True(t, strings.Contains(sampler(1).Description(), "AlwaysOnSampler"))
	assert.True(t, strings.Contains(sampler(0.25).Description(), "TraceIDRatioBased{0.25}"))
}
