// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScoresAccepted counts durably recorded submissions by game and mode
	ScoresAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_scores_accepted_total",
		Help: "Accepted score submissions",
	}, []string{"game", "mode"})

	// SubmissionsRejected counts rejected submissions by failure class
	SubmissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_submissions_rejected_total",
		Help: "Rejected score submissions",
	}, []string{"game", "reason"})

	// ChecksumFailures counts submissions failing the authenticity check
	ChecksumFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_checksum_failures_total",
		Help: "Submissions with an invalid checksum",
	}, []string{"game"})

	// GeoLookupFailures counts degraded country resolutions
	GeoLookupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_geoip_failures_total",
		Help: "Geo-IP lookups that fell back to the sentinel country",
	})
)
