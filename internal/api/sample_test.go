package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTo1(t *testing.T) {
	assert.Equal(t, 1.2, roundTo1(1.24))
	assert.Equal(t, 1.3, roundTo1(1.25))
	assert.Equal(t, -1.2, roundTo1(-1.24))
}

func TestClientKeyForPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/sample", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", clientKeyFor(r))
}

func TestClientKeyForFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/sample", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", clientKeyFor(r))
}

func TestSampleCoordinatorResolveCachesSuccessfulResult(t *testing.T) {
	clock := time.Now()
	sc := newSampleCoordinator(time.Minute, 10*time.Millisecond, time.Minute, 100, func() time.Time { return clock })

	var calls int32
	compute := func() (sampleResult, error) {
		atomic.AddInt32(&calls, 1)
		v := 1.0
		return sampleResult{Value: &v}, nil
	}
	key := sampleKey{model: "hrrr", run: "latest", varKey: "t2m", fh: 1, row: 0, col: 0}

	r1, err := sc.resolve(key, compute)
	require.NoError(t, err)
	r2, err := sc.resolve(key, compute)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSampleCoordinatorResolveRecomputesAfterTTLExpires(t *testing.T) {
	clock := time.Now()
	sc := newSampleCoordinator(time.Second, 10*time.Millisecond, time.Minute, 100, func() time.Time { return clock })

	var calls int32
	compute := func() (sampleResult, error) {
		atomic.AddInt32(&calls, 1)
		v := 1.0
		return sampleResult{Value: &v}, nil
	}
	key := sampleKey{model: "hrrr", run: "latest", varKey: "t2m", fh: 1, row: 0, col: 0}

	_, err := sc.resolve(key, compute)
	require.NoError(t, err)
	clock = clock.Add(2 * time.Second)
	_, err = sc.resolve(key, compute)
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSampleCoordinatorResolveDoesNotCacheErrors(t *testing.T) {
	sc := newSampleCoordinator(time.Minute, 10*time.Millisecond, time.Minute, 100, nil)
	key := sampleKey{model: "hrrr", run: "latest", varKey: "t2m", fh: 1, row: 0, col: 0}

	var calls int32
	compute := func() (sampleResult, error) {
		atomic.AddInt32(&calls, 1)
		return sampleResult{}, errors.New("boom")
	}

	_, err := sc.resolve(key, compute)
	assert.Error(t, err)
	_, err = sc.resolve(key, compute)
	assert.Error(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestSampleCoordinatorFollowerReceivesLeaderPayload(t *testing.T) {
	sc := newSampleCoordinator(time.Minute, time.Second, time.Minute, 100, nil)
	key := sampleKey{model: "hrrr", run: "latest", varKey: "t2m", fh: 1, row: 0, col: 0}

	leaderStarted := make(chan struct{})
	releaseLeader := make(chan struct{})
	var calls int32

	var wg sync.WaitGroup
	wg.Add(2)

	var leaderResult, followerResult sampleResult
	go func() {
		defer wg.Done()
		leaderResult, _ = sc.resolve(key, func() (sampleResult, error) {
			atomic.AddInt32(&calls, 1)
			close(leaderStarted)
			<-releaseLeader
			v := 42.0
			return sampleResult{Value: &v}, nil
		})
	}()

	<-leaderStarted
	go func() {
		defer wg.Done()
		followerResult, _ = sc.resolve(key, func() (sampleResult, error) {
			atomic.AddInt32(&calls, 1)
			v := -1.0
			return sampleResult{Value: &v}, nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(releaseLeader)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, leaderResult, followerResult)
}

func TestSampleCoordinatorAllowRejectsOverBudgetClients(t *testing.T) {
	sc := newSampleCoordinator(time.Minute, time.Millisecond, time.Minute, 2, nil)
	ok1, _ := sc.allow("client-a")
	ok2, _ := sc.allow("client-a")
	ok3, retryAfter := sc.allow("client-a")

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestSampleCoordinatorAllowTracksClientsIndependently(t *testing.T) {
	sc := newSampleCoordinator(time.Minute, time.Millisecond, time.Minute, 1, nil)
	okA, _ := sc.allow("client-a")
	okB, _ := sc.allow("client-b")

	assert.True(t, okA)
	assert.True(t, okB)
}

func TestComputeSampleOutOfBoundsReturnsNoData(t *testing.T) {
	s := &Server{}
	result, err := s.computeSample(nil, "/irrelevant/path.tif", 0, 0, false, "hrrr", "20260101_00z", "t2m", 1)
	require.NoError(t, err)
	assert.True(t, result.NoData)
	assert.Nil(t, result.Value)
}
