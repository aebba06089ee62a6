package lib

import (
	"sync"

	"github.com/canopy-network/metanode/lib/crypto"
)

/*
	A FIFO transaction pool. Consensus treats transactions as opaque bytes: a batch is pulled for a proposal and the
	transactions are only removed once a block containing them is finalized, so a failed round loses nothing
*/

// Mempool holds pending transactions in arrival order
type Mempool struct {
	config     MempoolConfig
	txs        [][]byte
	hashes     map[string]struct{}
	totalBytes uint64
	mu         sync.Mutex
}

// NewMempool() creates an empty pool
func NewMempool(config MempoolConfig) *Mempool {
	return &Mempool{config: config, hashes: make(map[string]struct{})}
}

// AddTransaction() appends a transaction; duplicates are ignored
func (m *Mempool) AddTransaction(tx []byte) ErrorI {
	if uint64(len(tx)) > m.config.MaxTransactionBytes {
		return ErrTxTooLarge(len(tx), int(m.config.MaxTransactionBytes))
	}
	key := crypto.HashString(tx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.hashes[key]; found {
		return nil
	}
	if len(m.txs) >= m.config.MaxTransactionCount || m.totalBytes+uint64(len(tx)) > m.config.MaxTotalBytes {
		return ErrMempoolFull()
	}
	m.txs = append(m.txs, tx)
	m.hashes[key] = struct{}{}
	m.totalBytes += uint64(len(tx))
	return nil
}

// PullBatch() returns up to maxItems of the oldest transactions without exceeding maxBytes
func (m *Mempool) PullBatch(maxItems int, maxBytes uint64) (batch [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var size uint64
	for _, tx := range m.txs {
		if len(batch) == maxItems || size+uint64(len(tx)) > maxBytes {
			break
		}
		batch = append(batch, tx)
		size += uint64(len(tx))
	}
	return
}

// RemoveCommitted() drops transactions included in a finalized block
func (m *Mempool) RemoveCommitted(txs [][]byte) {
	if len(txs) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	committed := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		committed[crypto.HashString(tx)] = struct{}{}
	}
	kept := m.txs[:0]
	for _, tx := range m.txs {
		key := crypto.HashString(tx)
		if _, found := committed[key]; found {
			delete(m.hashes, key)
			m.totalBytes -= uint64(len(tx))
			continue
		}
		kept = append(kept, tx)
	}
	for i := len(kept); i < len(m.txs); i++ {
		m.txs[i] = nil
	}
	m.txs = kept
}

// Size() is the number of pending transactions
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}
