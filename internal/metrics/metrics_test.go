package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := New(reg)
	require.NoError(t, err)

	p.ObserveUpload(ResultProcessed, 120*time.Millisecond)
	p.ObserveUpload(ResultProcessed, 80*time.Millisecond)
	p.ObserveUpload(ResultRejected, time.Millisecond)
	p.ObserveScrub("mat2", "unavailable")
	p.ObserveScrub("exiftool", "succeeded")
	p.ObserveOptionalFailure("content_store", "unreachable")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.uploads.WithLabelValues(ResultProcessed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.uploads.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.scrubAttempts.WithLabelValues("exiftool", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.optionalFailures.WithLabelValues("content_store", "unreachable")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.processing))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilPipelineIsNoop(t *testing.T) {
	var p *Pipeline
	assert.NotPanics(t, func() {
		p.ObserveUpload(ResultFailed, time.Second)
		p.ObserveScrub("mat2", "failed")
		p.ObserveOptionalFailure("ledger", "LEDGER_UNREACHABLE")
	})
}
