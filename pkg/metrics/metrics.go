// Package metrics exposes the process's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsProcessed counts finished jobs by terminal status.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_jobs_processed_total",
		Help: "Jobs finished, labeled by terminal status.",
	}, []string{"status"})

	// JobsSubmitted counts accepted job submissions.
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parallax_jobs_submitted_total",
		Help: "Jobs accepted into the queue.",
	})

	// QueueDepth tracks the queued job count as last observed.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parallax_queue_depth",
		Help: "Queued jobs at the last poll.",
	})

	// ProviderCalls counts LLM provider calls by outcome.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_provider_calls_total",
		Help: "Provider completion calls, labeled by outcome.",
	}, []string{"outcome"})

	// ProviderTokens counts tokens spent, by direction.
	ProviderTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_provider_tokens_total",
		Help: "Provider tokens consumed, labeled prompt or completion.",
	}, []string{"direction"})

	// CacheHits counts answer-cache hits by tier (exact or semantic).
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_cache_hits_total",
		Help: "Answer cache hits, labeled by tier.",
	}, []string{"tier"})

	// ToolInvocations counts tool-surface calls by tool and outcome.
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parallax_tool_invocations_total",
		Help: "Tool invocations, labeled by tool and outcome.",
	}, []string{"tool", "outcome"})
)

// CountUsage records prompt/completion token spend.
func CountUsage(promptTokens, completionTokens int) {
	ProviderTokens.WithLabelValues("prompt").Add(float64(promptTokens))
	ProviderTokens.WithLabelValues("completion").Add(float64(completionTokens))
}
