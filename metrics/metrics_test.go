package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(fullSyncs.WithLabelValues("test"))
	FullSync("test")
	FullSync("test")
	assert.Equal(t, before+2, testutil.ToFloat64(fullSyncs.WithLabelValues("test")))

	matched := testutil.ToFloat64(verifications.WithLabelValues(OutcomeMatch))
	missed := testutil.ToFloat64(verifications.WithLabelValues(OutcomeMismatch))
	Verification(true)
	Verification(false)
	Verification(false)
	assert.Equal(t, matched+1, testutil.ToFloat64(verifications.WithLabelValues(OutcomeMatch)))
	assert.Equal(t, missed+2, testutil.ToFloat64(verifications.WithLabelValues(OutcomeMismatch)))

	merges := testutil.ToFloat64(partialSyncs.WithLabelValues("false"))
	PartialSync(false)
	assert.Equal(t, merges+1, testutil.ToFloat64(partialSyncs.WithLabelValues("false")))
}

func TestActiveChannelsGauge(t *testing.T) {
	before := testutil.ToFloat64(activeChannels.WithLabelValues())
	ChannelOpened()
	ChannelOpened()
	ChannelClosed()
	assert.Equal(t, before+1, testutil.ToFloat64(activeChannels.WithLabelValues()))
	ChannelClosed()
}

func TestHandler(t *testing.T) {
	Announcement()
	DivergenceTimeout()
	PeerMessage("in", "sync_hello")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "statesync_channel_fingerprint_announcements_total")
	assert.Contains(t, body, "statesync_channel_divergence_timeouts_total")
	assert.Contains(t, body, `statesync_peer_messages_total{direction="in",type="sync_hello"}`)
}
