// Package metrics defines the Prometheus collectors for the sync protocol.
// All collectors register on the default registry at package load.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace prefixes every statesync metric
	Namespace = "statesync"

	subsystemChannel = "channel"
	subsystemPeer    = "peer"
)

// Verification outcomes
const (
	OutcomeMatch    = "match"
	OutcomeMismatch = "mismatch"
)

// NewCounter creates a counter vector under the statesync namespace.
func NewCounter(name, subsystem, help string, labels []string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

// NewGauge creates a gauge vector under the statesync namespace.
func NewGauge(name, subsystem, help string, labels []string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

var (
	partialSyncs = NewCounter("partial_syncs_total", subsystemChannel,
		"Partial-sync events emitted for local mutations", []string{"merge"})

	fullSyncs = NewCounter("full_syncs_total", subsystemChannel,
		"Full-sync events emitted, by trigger reason", []string{"reason"})

	verifications = NewCounter("verifications_total", subsystemChannel,
		"Remote fingerprints checked against the writable store", []string{"outcome"})

	announcements = NewCounter("fingerprint_announcements_total", subsystemChannel,
		"Read-only fingerprints announced to the remote writer", nil)

	divergenceTimeouts = NewCounter("divergence_timeouts_total", subsystemChannel,
		"Verification deadlines that elapsed without a matching fingerprint", nil)

	activeChannels = NewGauge("active", subsystemChannel,
		"Channels constructed and not yet destroyed", nil)

	peerMessages = NewCounter("messages_total", subsystemPeer,
		"Wire messages handled by peers", []string{"direction", "type"})

	peerDropped = NewCounter("dropped_total", subsystemPeer,
		"Inbound wire messages dropped, by reason", []string{"reason"})
)

// PartialSync counts an emitted partial-sync
func PartialSync(merge bool) {
	label := "true"
	if !merge {
		label = "false"
	}
	partialSyncs.WithLabelValues(label).Inc()
}

// FullSync counts an emitted full-sync
func FullSync(reason string) {
	fullSyncs.WithLabelValues(reason).Inc()
}

// Verification counts one fingerprint check
func Verification(matched bool) {
	outcome := OutcomeMatch
	if !matched {
		outcome = OutcomeMismatch
	}
	verifications.WithLabelValues(outcome).Inc()
}

// Announcement counts one fingerprint announcement
func Announcement() {
	announcements.WithLabelValues().Inc()
}

// DivergenceTimeout counts one elapsed verification deadline
func DivergenceTimeout() {
	divergenceTimeouts.WithLabelValues().Inc()
}

// ChannelOpened and ChannelClosed track live channels
func ChannelOpened() { activeChannels.WithLabelValues().Inc() }

func ChannelClosed() { activeChannels.WithLabelValues().Dec() }

// PeerMessage counts a wire message; direction is "in" or "out".
func PeerMessage(direction, msgType string) {
	peerMessages.WithLabelValues(direction, msgType).Inc()
}

// PeerDropped counts an inbound message the peer discarded
func PeerDropped(reason string) {
	peerDropped.WithLabelValues(reason).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
