package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouchd_events_received",
	Help: "Number of platform events received, by transport",
}, []string{"transport"})

var eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vouchd_events_rejected",
	Help: "Number of inbound payloads refused before processing",
}, []string{"transport", "reason"})

var eventsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vouchd_events_in_flight",
	Help: "Events currently being processed",
})

var gatewayReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vouchd_gateway_reconnects",
	Help: "Number of gateway websocket reconnect attempts",
})
