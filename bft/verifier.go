package bft

import (
	"context"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"
)

/*
	Signature checks are pure functions over immutable inputs, so inbound messages are verified by a bounded pool of
	workers before they reach the round state machine. Every successful check is remembered in an LRU keyed by
	(public key, message, signature): the state machine re-verifies through the same cache, which makes the second
	check a lookup and keeps the state machine correct on its own when messages skip the pool (tests, self delivery).
*/

// Verifier is the signature verification worker pool and its cache
type Verifier struct {
	workers int
	cache   *lru.Cache
}

// NewVerifier() creates a pool of `workers` goroutines sharing a cache of `cacheSize` verified signatures
func NewVerifier(workers, cacheSize int) (*Verifier, lib.ErrorI) {
	if workers < 1 {
		workers = 1
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, lib.ErrInvalidConfig(err.Error())
	}
	return &Verifier{workers: workers, cache: cache}, nil
}

// VerifyBytes() checks a single signature, consulting and filling the cache
func (v *Verifier) VerifyBytes(key crypto.PublicKeyI, msg, sig []byte) bool {
	cacheKey := crypto.HashString(lib.NewCanonicalEncoder().Bytes(key.Bytes()).Bytes(msg).Bytes(sig).Encoded())
	if v.cache.Contains(cacheKey) {
		return true
	}
	if !key.VerifyBytes(msg, sig) {
		return false
	}
	v.cache.Add(cacheKey, struct{}{})
	return true
}

// CheckQC() verifies a quorum certificate against a set, caching the outcome of the aggregate check
func (v *Verifier) CheckQC(qc *lib.QuorumCertificate, set *lib.ValidatorSet) lib.ErrorI {
	if qc == nil {
		return lib.ErrNilCertificate()
	}
	cacheKey := crypto.HashString(lib.NewCanonicalEncoder().Bytes(set.Root()).Bytes(qc.Bytes()).Encoded())
	if v.cache.Contains(cacheKey) {
		return nil
	}
	if err := qc.Check(set); err != nil {
		return err
	}
	v.cache.Add(cacheKey, struct{}{})
	return nil
}

// Run() verifies messages from `in` with `check` on the worker pool and forwards the valid ones to `out`. Invalid
// messages are passed to `drop`. Blocks until ctx is done
func (v *Verifier) Run(ctx context.Context, in <-chan *Message, out chan<- *Message, check func(*Message) lib.ErrorI, drop func(*Message, lib.ErrorI)) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	defer func() { _ = g.Wait() }()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			g.Go(func() error {
				if err := check(m); err != nil {
					drop(m, err)
					return nil
				}
				select {
				case out <- m:
				case <-ctx.Done():
				}
				return nil
			})
		}
	}
}
