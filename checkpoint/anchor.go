package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/canopy-network/metanode/lib"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultAnchorQueueSize  = 100
	defaultAnchorMaxElapsed = time.Minute
	anchorHTTPTimeout       = 10 * time.Second
)

// Publisher delivers a certificate to one external anchoring target
type Publisher interface {
	Name() string
	Publish(ctx context.Context, cert *lib.CheckpointCertificate) error
}

// Anchorer publishes checkpoint certificates in the background. Submissions never block: when the queue is full the
// certificate is refused and stays available from the chain and the store
type Anchorer struct {
	publishers      []Publisher
	queue           chan *lib.CheckpointCertificate
	maxElapsed      time.Duration
	initialInterval time.Duration
	metrics         *lib.Metrics
	log             lib.LoggerI
}

// NewAnchorer() creates an anchoring service over publishers
func NewAnchorer(publishers []Publisher, queueSize int, maxElapsed time.Duration, m *lib.Metrics, l lib.LoggerI) *Anchorer {
	if queueSize < 1 {
		queueSize = defaultAnchorQueueSize
	}
	if maxElapsed <= 0 {
		maxElapsed = defaultAnchorMaxElapsed
	}
	return &Anchorer{
		publishers:      publishers,
		queue:           make(chan *lib.CheckpointCertificate, queueSize),
		maxElapsed:      maxElapsed,
		initialInterval: backoff.DefaultInitialInterval,
		metrics:         m,
		log:             l,
	}
}

// NewAnchorerFromMeta() creates the service for the anchor targets of a meta config. A target with an endpoint in
// the anchoring extension is published to over http, any other target is only logged
func NewAnchorerFromMeta(meta lib.MetaConfig, m *lib.Metrics, l lib.LoggerI) *Anchorer {
	var (
		endpoints  map[string]string
		queueSize  int
		maxElapsed time.Duration
	)
	if ext, ok := meta.Anchoring(); ok {
		endpoints, queueSize = ext.Endpoints, ext.QueueSize
		maxElapsed = time.Duration(ext.MaxElapsedS) * time.Second
	}
	publishers := make([]Publisher, 0, len(meta.Checkpoints.AnchorTargets))
	for _, target := range meta.Checkpoints.AnchorTargets {
		if url, found := endpoints[target]; found && url != "" {
			publishers = append(publishers, NewHTTPPublisher(target, url))
		} else {
			publishers = append(publishers, &LogPublisher{name: target, log: l})
		}
	}
	return NewAnchorer(publishers, queueSize, maxElapsed, m, l)
}

// Submit() queues a certificate for publication without blocking
func (a *Anchorer) Submit(cert *lib.CheckpointCertificate) lib.ErrorI {
	if len(a.publishers) == 0 {
		return nil
	}
	select {
	case a.queue <- cert:
		return nil
	default:
		return ErrAnchorQueueFull()
	}
}

// Run() publishes queued certificates until ctx is done
func (a *Anchorer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cert := <-a.queue:
			for _, p := range a.publishers {
				a.publish(ctx, p, cert)
			}
		}
	}
}

// publish() retries one publication with exponential backoff until it succeeds, fails permanently, runs out of time
// or ctx is done
func (a *Anchorer) publish(ctx context.Context, p Publisher, cert *lib.CheckpointCertificate) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.initialInterval
	policy.MaxElapsedTime = a.maxElapsed
	err := backoff.Retry(func() error { return p.Publish(ctx, cert) }, backoff.WithContext(policy, ctx))
	a.metrics.IncAnchor(err == nil)
	if err != nil {
		a.log.Warn(ErrAnchorPublish(p.Name(), err).Error())
		return
	}
	a.log.Debugf("Anchored checkpoint at height %d to %s", cert.Height, p.Name())
}

// LogPublisher records the certificate in the node log; the target for deployments without an external service
type LogPublisher struct {
	name string
	log  lib.LoggerI
}

func (p *LogPublisher) Name() string { return p.name }

func (p *LogPublisher) Publish(_ context.Context, cert *lib.CheckpointCertificate) error {
	p.log.Infof("Checkpoint %x at height %d for anchor target %s", cert.Hash(), cert.Height, p.name)
	return nil
}

// HTTPPublisher posts the certificate as json to an endpoint
type HTTPPublisher struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPPublisher() creates a publisher posting to url
func NewHTTPPublisher(name, url string) *HTTPPublisher {
	return &HTTPPublisher{name: name, url: url, client: &http.Client{Timeout: anchorHTTPTimeout}}
}

func (p *HTTPPublisher) Name() string { return p.name }

// Publish() posts the certificate; a 4xx answer is permanent and isn't retried
func (p *HTTPPublisher) Publish(ctx context.Context, cert *lib.CheckpointCertificate) error {
	bz, err := lib.MarshalJSON(cert)
	if err != nil {
		return backoff.Permanent(err)
	}
	req, e := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(bz))
	if e != nil {
		return backoff.Permanent(e)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, e := p.client.Do(req)
	if e != nil {
		return e
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("unexpected status code %d", resp.StatusCode))
	default:
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
}
