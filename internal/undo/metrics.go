package undo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabula_undo_captures_total",
		Help: "Undo captures by outcome (recorded, duplicate, coalesced, empty).",
	}, []string{"outcome"})

	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tabula_undo_restores_total",
		Help: "Undo and redo restores by direction.",
	}, []string{"direction"})
)
