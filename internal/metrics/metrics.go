// Package metrics defines the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections tracks currently open WebSocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopchat_ws_connections",
		Help: "Number of open WebSocket connections.",
	})

	// Frames counts inbound gateway frames by type.
	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopchat_gateway_frames_total",
		Help: "Inbound gateway frames by message type.",
	}, []string{"type"})

	// ToolCalls counts tool bridge invocations by tool and outcome.
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopchat_tool_calls_total",
		Help: "Tool bridge invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	// LLMRequests counts completion requests by outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopchat_llm_requests_total",
		Help: "Chat completion requests by outcome.",
	}, []string{"outcome"})

	// Fallbacks counts degradation ladder activations by tier.
	Fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopchat_fallbacks_total",
		Help: "Degradation ladder activations by tier.",
	}, []string{"tier"})
)
