package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(IngestRuns.WithLabelValues("test", "inserted"))
	IngestRuns.WithLabelValues("test", "inserted").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(IngestRuns.WithLabelValues("test", "inserted")))

	CacheLookups.WithLabelValues("report", "hit").Add(2)
	assert.GreaterOrEqual(t, testutil.ToFloat64(CacheLookups.WithLabelValues("report", "hit")), 2.0)
}
