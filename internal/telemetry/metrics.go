// Package telemetry holds the process-wide Prometheus collectors.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskflow_decisions_total",
		Help: "Automation decisions by intent and outcome",
	}, []string{"intent", "decision"})
	DraftsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskflow_drafts_created_total",
		Help: "Draft records persisted, by initial status",
	}, []string{"status"})
	TicketsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deskflow_tickets_created_total",
		Help: "Escalation tickets opened",
	})
	StatusTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskflow_status_transitions_total",
		Help: "Reviewer status changes, by target status",
	}, []string{"status"})
	QueryFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deskflow_query_failures_total",
		Help: "Failed support queries, by error kind",
	}, []string{"kind"})
	MailSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deskflow_mail_sent_total",
		Help: "Approved drafts delivered",
	})
	IndexedDocuments = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deskflow_index_documents",
		Help: "Documents in the retrieval index after the last rebuild",
	})
)

// Handler exposes the default registry, registering deskflow collectors on
// first call.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			Decisions,
			DraftsCreated,
			TicketsCreated,
			StatusTransitions,
			QueryFailures,
			MailSent,
			IndexedDocuments,
		)
	})
	return promhttp.Handler()
}
