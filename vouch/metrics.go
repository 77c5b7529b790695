package vouch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "vouch_event_duration_sec",
	Help: "Total duration of event processing",
}, []string{"type"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouch_event_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouch_event_errors",
	Help: "Number of events which failed processing",
}, []string{"type"})

var submissionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouch_submissions",
	Help: "Number of image submissions, by intake outcome",
}, []string{"outcome"})

var resolutionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouch_resolutions",
	Help: "Number of review decisions, by outcome",
}, []string{"decision"})

var openCases = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vouch_open_cases",
	Help: "Review cases currently awaiting a decision",
})

var commandCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouch_commands",
	Help: "Number of chat commands handled",
}, []string{"command"})
