package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lockContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_lock_contention_total",
	Help: "counter of dataset write-lock acquisition attempts which found the lock held",
}, []string{"dataset"})

var lockExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "uploader_lock_exhausted_total",
	Help: "counter of dataset write-lock acquisitions which exhausted their retry budget",
}, []string{"dataset"})
