package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"
	noop "go.opentelemetry.io/otel/trace/noop"

	"github.com/shellflow/shellflow/pkg/models"
	"github.com/shellflow/shellflow/pkg/otelhelper"
)

// parseTarget splits a user@host:port target. The port defaults to 22.
func parseTarget(target, callerID string) (models.ConnectionKey, error) {
	username, hostPort, found := strings.Cut(target, "@")
	if !found || username == "" || hostPort == "" {
		return models.ConnectionKey{}, fmt.Errorf("target %q must be user@host[:port]", target)
	}

	host := hostPort
	port := 22

	if h, p, found := strings.Cut(hostPort, ":"); found {
		parsed, err := strconv.Atoi(p)
		if err != nil || parsed <= 0 {
			return models.ConnectionKey{}, fmt.Errorf("target %q has an invalid port", target)
		}

		host = h
		port = parsed
	}

	return models.ConnectionKey{
		Username: username,
		Host:     host,
		Port:     port,
		CallerID: callerID,
	}, nil
}

// nolint:ireturn // trace.Tracer is an interface by design
func buildTracer(ctx context.Context, enabled bool) (trace.Tracer, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer("shellflow-runner"), nil
	}

	return otelhelper.NewTracer(ctx, "shellflow-runner")
}
