// Package metrics holds the Prometheus instruments for the notification subsystem.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry          *prometheus.Registry
	registrations     *prometheus.CounterVec
	tokenAcquisitions *prometheus.CounterVec
	events            *prometheus.CounterVec
	toasts            *prometheus.CounterVec
	platform          *prometheus.CounterVec
	promptVisible     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpush",
			Name:      "registration_attempts_total",
			Help:      "Backend device-token registration attempts by result.",
		}, []string{"result"}),
		tokenAcquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpush",
			Name:      "token_acquisitions_total",
			Help:      "Push provider token acquisitions by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpush",
			Name:      "inbound_messages_total",
			Help:      "Inbound push messages by channel and outcome.",
		}, []string{"channel", "outcome"}),
		toasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpush",
			Name:      "toasts_total",
			Help:      "Toasts rendered by source type.",
		}, []string{"source_type"}),
		platform: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "schoolpush",
			Name:      "platform_notifications_total",
			Help:      "Platform-level notifications by result.",
		}, []string{"result"}),
		promptVisible: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "schoolpush",
			Name:      "prompt_visible",
			Help:      "1 while the enable-notifications banner is shown.",
		}),
	}
	m.registry.MustRegister(
		m.registrations,
		m.tokenAcquisitions,
		m.events,
		m.toasts,
		m.platform,
		m.promptVisible,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RegistrationAttempt(result string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenAcquisition(result string) {
	if m == nil {
		return
	}
	m.tokenAcquisitions.WithLabelValues(result).Inc()
}

func (m *Metrics) InboundMessage(channel, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) Toast(sourceType string) {
	if m == nil {
		return
	}
	m.toasts.WithLabelValues(sourceType).Inc()
}

func (m *Metrics) PlatformNotification(result string) {
	if m == nil {
		return
	}
	m.platform.WithLabelValues(result).Inc()
}

func (m *Metrics) PromptVisible(visible bool) {
	if m == nil {
		return
	}
	if visible {
		m.promptVisible.Set(1)
	} else {
		m.promptVisible.Set(0)
	}
}
