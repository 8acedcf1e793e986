package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAfterInit(t *testing.T) {
	Init()
	Init()
	require.True(t, Enabled())

	CallStarted()
	CallFinished("outbound", "hangup", 30*time.Second)
	RecordCodecSwitch("opus-wideband-stereo", "opus-narrowband")
	RecordRegistration(errors.New("denied"))
	RecordCallLogWrite(nil)
	RecordQuality(72)

	assert.Equal(t, float64(1), testutil.ToFloat64(CallsTotal.WithLabelValues("outbound", "hangup")))
	assert.Equal(t, float64(1), testutil.ToFloat64(CodecSwitches.WithLabelValues("opus-wideband-stereo", "opus-narrowband")))
	assert.Equal(t, float64(1), testutil.ToFloat64(DeviceRegistrations.WithLabelValues("failure")))
	assert.Equal(t, float64(72), testutil.ToFloat64(QualityLatest))
}

func TestHandlerExposesRegistry(t *testing.T) {
	Init()
	RecordAdaptation("good", 64000)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "softphone_target_bitrate_bps 64000")
}
