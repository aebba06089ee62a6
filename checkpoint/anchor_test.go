package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/metanode/lib"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// flakyPublisher fails a fixed number of times before succeeding
type flakyPublisher struct {
	failures  int32
	attempts  atomic.Int32
	mu        sync.Mutex
	published []*lib.CheckpointCertificate
}

func (p *flakyPublisher) Name() string { return "flaky" }

func (p *flakyPublisher) Publish(_ context.Context, cert *lib.CheckpointCertificate) error {
	if p.attempts.Add(1) <= p.failures {
		return errors.New("unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, cert)
	return nil
}

func (p *flakyPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestCert(height uint64) *lib.CheckpointCertificate {
	in := newTestInput(nil, height)
	return &lib.CheckpointCertificate{Height: height, HeaderHash: in.HeaderHash, StateRoot: in.StateRoot, Timestamp: in.Timestamp}
}

func TestAnchorerRetries(t *testing.T) {
	defer goleak.VerifyNone(t)
	p := &flakyPublisher{failures: 2}
	a := NewAnchorer([]Publisher{p}, 10, time.Second, nil, lib.NewNullLogger())
	a.initialInterval = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	require.NoError(t, a.Submit(newTestCert(10)))
	require.NoError(t, a.Submit(newTestCert(20)))
	require.Eventually(t, func() bool { return p.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.EqualValues(t, 4, p.attempts.Load())
	require.EqualValues(t, 10, p.published[0].Height)
	cancel()
	<-done
}

func TestAnchorerGivesUp(t *testing.T) {
	p := &flakyPublisher{failures: 1 << 30}
	a := NewAnchorer([]Publisher{p}, 10, 20*time.Millisecond, nil, lib.NewNullLogger())
	a.initialInterval = time.Millisecond
	a.publish(context.Background(), p, newTestCert(10))
	require.Zero(t, p.count())
	require.Greater(t, p.attempts.Load(), int32(1))
}

func TestAnchorerQueueFull(t *testing.T) {
	a := NewAnchorer([]Publisher{&flakyPublisher{}}, 2, time.Second, nil, lib.NewNullLogger())
	require.NoError(t, a.Submit(newTestCert(1)))
	require.NoError(t, a.Submit(newTestCert(2)))
	// nothing drains the queue, so the third submission is refused instead of blocking
	require.ErrorIs(t, a.Submit(newTestCert(3)), ErrAnchorQueueFull())
	// without publishers submissions are ignored
	require.NoError(t, NewAnchorer(nil, 1, time.Second, nil, lib.NewNullLogger()).Submit(newTestCert(1)))
}

func TestNewAnchorerFromMeta(t *testing.T) {
	meta := lib.DefaultMetaConfig()
	meta.Checkpoints.AnchorTargets = []string{"archive", "audit-log"}
	meta.Extensions = lib.Extensions{&lib.CheckpointAnchoringExtension{
		Endpoints:   map[string]string{"archive": "http://localhost:1/checkpoints"},
		QueueSize:   7,
		MaxElapsedS: 3,
	}}
	a := NewAnchorerFromMeta(meta, nil, lib.NewNullLogger())
	require.Len(t, a.publishers, 2)
	require.IsType(t, &HTTPPublisher{}, a.publishers[0])
	require.IsType(t, &LogPublisher{}, a.publishers[1])
	require.Equal(t, "audit-log", a.publishers[1].Name())
	require.Equal(t, 7, cap(a.queue))
	require.Equal(t, 3*time.Second, a.maxElapsed)
	// no targets means nothing to publish to
	require.Empty(t, NewAnchorerFromMeta(lib.DefaultMetaConfig(), nil, lib.NewNullLogger()).publishers)
}

func TestHTTPPublisher(t *testing.T) {
	tests := []struct {
		name      string
		detail    string
		status    int
		err       bool
		permanent bool
	}{
		{
			name:   "accepted",
			detail: "a 2xx answer publishes the certificate",
			status: http.StatusCreated,
		},
		{
			name:      "refused",
			detail:    "a 4xx answer won't change on retry",
			status:    http.StatusBadRequest,
			err:       true,
			permanent: true,
		},
		{
			name:   "unavailable",
			detail: "a 5xx answer is retried",
			status: http.StatusServiceUnavailable,
			err:    true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var received lib.CheckpointCertificate
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, "application/json", r.Header.Get("Content-Type"))
				require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
				w.WriteHeader(test.status)
			}))
			defer server.Close()
			p := NewHTTPPublisher("archive", server.URL)
			require.Equal(t, "archive", p.Name())
			err := p.Publish(context.Background(), newTestCert(10))
			require.EqualValues(t, 10, received.Height)
			if !test.err {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var permanent *backoff.PermanentError
			require.Equal(t, test.permanent, errors.As(err, &permanent))
		})
	}
}
