package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsIncrement(t *testing.T) {
	before := testutil.ToFloat64(ExchangeCacheRequests.WithLabelValues("aud", "hit"))
	ExchangeCacheRequests.WithLabelValues("aud", "hit").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ExchangeCacheRequests.WithLabelValues("aud", "hit")))

	before = testutil.ToFloat64(DelegateRequests.WithLabelValues("responded"))
	DelegateRequests.WithLabelValues("responded").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DelegateRequests.WithLabelValues("responded")))
}

func TestCollectorsLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(TokenExchanges)
	assert.NoError(t, err)
	assert.Empty(t, problems)
}
