// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New("test", reg)
	require.NoError(t, err)

	c.TypesLoaded(12, 3, 150*time.Millisecond)
	c.TypeRejected("invalid")
	c.TypeRejected("invalid")
	c.ItemsApplied("add", 5)
	c.ItemsApplied("remove", 0)
	c.SequenceGap()
	c.SubscriptionOnline(true)
	c.SubscriptionOnline(true)
	c.SubscriptionOnline(false)
	c.SessionRefs("plc1", 2)
	c.SessionConnect("plc1", time.Millisecond, errors.New("refused"))
	c.BridgeRequest("start", nil)

	assert.Equal(t, 12.0, testutil.ToFloat64(c.typesLoaded))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.typesUnresolved))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.typesRejected.WithLabelValues("invalid")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.reconcileItems.WithLabelValues("add")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.reconcileItems.WithLabelValues("remove")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sequenceGaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.subscriptionsOnline))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sessionRefs.WithLabelValues("plc1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionConnects.WithLabelValues("plc1", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bridgeRequests.WithLabelValues("start", "ok")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.TypesLoaded(1, 0, time.Second)
		c.ItemsApplied("add", 1)
		c.SessionConnect("k", time.Second, nil)
		c.Notification()
	})
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New("dup", reg)
	require.NoError(t, err)

	_, err = New("dup", reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New("srv", reg)
	require.NoError(t, err)
	c.Notification()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "srv_subscription_notifications_total 1"))
}
