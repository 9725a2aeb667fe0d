package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var authzDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authz_denials_total",
	Help: "Authorization denials by reason.",
}, []string{"reason"})
