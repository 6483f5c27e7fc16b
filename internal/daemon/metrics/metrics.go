// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HeartbeatsTotal counts usage samples ingested via the API.
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contextd_heartbeats_total",
		Help: "Total number of session heartbeats ingested.",
	})

	// CheckpointsWritten counts durably persisted checkpoints by trigger.
	CheckpointsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contextd_checkpoints_written_total",
		Help: "Total number of checkpoints written, by trigger reason.",
	}, []string{"trigger"})

	// CheckpointsFailed counts checkpoint write failures.
	CheckpointsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contextd_checkpoints_failed_total",
		Help: "Total number of failed checkpoint writes.",
	})

	// CheckpointsRejected counts coalesced trigger requests.
	CheckpointsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contextd_checkpoints_rejected_total",
		Help: "Total number of checkpoint requests coalesced while one was in flight.",
	})

	// SessionsReaped counts reaper transitions by resulting status.
	SessionsReaped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contextd_sessions_reaped_total",
		Help: "Total number of sessions marked stale or terminated by the reaper.",
	}, []string{"status"})

	// ObserversConnected tracks currently connected push-channel observers.
	ObserversConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "contextd_observers_connected",
		Help: "Number of currently connected state-stream observers.",
	})
)
