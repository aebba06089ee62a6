package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/canopy-network/metanode/checkpoint"
	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/dgraph-io/badger/v4"
)

var (
	_ lib.StoreI           = &Store{} // enforce the Store interface
	_ checkpoint.Persister = &Store{} // checkpoints survive restarts
)

/*
The Store is the ledger of decided blocks, built on a single BadgerDB instance.

1. Blocks: every decided block is indexed by height, and by hash through a secondary index that maps the block hash
   to its height.

2. Certificates: the commit certificate proving each block is stored next to it in its canonical encoding, the same
   bytes a checkpoint carries as its consensus proof.

3. CommitIDs: a small structure per height of the block hash and the state root after applying the block. The state
   root is a hash chain over the decided blocks, so two nodes with the same root have decided the same history.
   The latest CommitID is also kept under a fixed key for easy access.

4. Checkpoints: the hash linked checkpoint certificates by height.

All writes of a height happen in one badger transaction so a crash never leaves a block without its certificate.
Heights are big endian encoded in keys to keep iteration in height order.
*/

type Store struct {
	db     *badger.DB    // underlying database
	latest *lib.CommitID // the most recent commit id, nil before the first block
	mu     sync.RWMutex  // guards latest and serializes commits
	log    lib.LoggerI   // logger
}

// New() creates a new instance of a Store either in memory or an actual disk DB
func New(config lib.Config, l lib.LoggerI) (*Store, lib.ErrorI) {
	if config.StoreConfig.InMemory {
		return NewStoreInMemory(l)
	}
	return NewStore(filepath.Join(config.DataDirPath, config.DBName), l)
}

// NewStore() creates a new instance of a disk DB
func NewStore(path string, l lib.LoggerI) (*Store, lib.ErrorI) {
	db, err := badger.Open(badger.DefaultOptions(path).
		WithLogger(badgerLogger{l}).
		WithLoggingLevel(badger.WARNING).
		WithNumVersionsToKeep(1))
	if err != nil {
		return nil, ErrOpenDB(err)
	}
	return NewStoreWithDB(db, l)
}

// NewStoreInMemory() creates a new instance of a mem DB
func NewStoreInMemory(l lib.LoggerI) (*Store, lib.ErrorI) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithMemTableSize(16 << 20).WithLogger(nil))
	if err != nil {
		return nil, ErrOpenDB(err)
	}
	return NewStoreWithDB(db, l)
}

// NewStoreWithDB() wraps an open database and loads the latest commit id
func NewStoreWithDB(db *badger.DB, l lib.LoggerI) (*Store, lib.ErrorI) {
	s := &Store{db: db, log: l}
	bz, err := s.get(lastCommitIDKey)
	if err != nil {
		return nil, err
	}
	if bz != nil {
		s.latest = new(lib.CommitID)
		if err = lib.UnmarshalJSON(bz, s.latest); err != nil {
			return nil, err
		}
		if len(s.latest.StateRoot) == 0 {
			return nil, ErrNilStateRoot()
		}
		l.Infof("Loaded store at height %d", s.latest.Height)
	}
	return s, nil
}

// CommitBlock() writes a decided block, its commit certificate and the next commit id in a single transaction
func (s *Store) CommitBlock(height uint64, proposal *lib.BlockProposal, qc *lib.QuorumCertificate) lib.ErrorI {
	if proposal == nil {
		return lib.ErrInvalidArgument("nil proposal")
	}
	if qc == nil {
		return lib.ErrNilCertificate()
	}
	blockHash := proposal.BlockHash()
	if !bytes.Equal(qc.ProposalHash, blockHash) || qc.Height != height {
		return lib.ErrInvalidQC("certificate is not for the committed block")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prevHeight, prevRoot := uint64(0), crypto.ZeroHash
	if s.latest != nil {
		prevHeight, prevRoot = s.latest.Height, s.latest.StateRoot
	}
	if height != prevHeight+1 {
		return ErrOutOfOrder(prevHeight+1, height)
	}
	id := &lib.CommitID{
		Height:    height,
		BlockHash: blockHash,
		StateRoot: nextStateRoot(prevRoot, blockHash, proposal.TxRoot),
	}
	blockBz, err := lib.MarshalJSON(proposal)
	if err != nil {
		return err
	}
	idBz, err := lib.MarshalJSON(id)
	if err != nil {
		return err
	}
	heightBz := binary.BigEndian.AppendUint64(nil, height)
	if e := s.db.Update(func(txn *badger.Txn) error {
		for _, kv := range [][2][]byte{
			{heightKey(blockPrefix, height), blockBz},
			{hashKey(blockHash), heightBz},
			{heightKey(qcPrefix, height), qc.Bytes()},
			{heightKey(commitIDPrefix, height), idBz},
			{lastCommitIDKey, idBz},
		} {
			if er := txn.Set(kv[0], kv[1]); er != nil {
				return er
			}
		}
		return nil
	}); e != nil {
		return ErrCommitDB(e)
	}
	s.latest = id
	s.log.Debugf("Committed block %s at height %d", lib.BytesToTruncatedString(blockHash), height)
	return nil
}

// nextStateRoot() chains the previous root with the decided block
func nextStateRoot(prevRoot, blockHash, txRoot []byte) []byte {
	return crypto.DomainHash(lib.StateDomain, prevRoot, blockHash, txRoot)
}

// LatestCommittedHeight() is 0 before the first block
func (s *Store) LatestCommittedHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return 0
	}
	return s.latest.Height
}

// LastBlockHash() is the zero hash before the first block
func (s *Store) LastBlockHash() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return crypto.ZeroHash
	}
	return s.latest.BlockHash
}

// StateRoot() is the zero hash before the first block
func (s *Store) StateRoot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return crypto.ZeroHash
	}
	return s.latest.StateRoot
}

func (s *Store) GetCommitID(height uint64) (*lib.CommitID, lib.ErrorI) {
	bz, err := s.mustGet("commit id", heightKey(commitIDPrefix, height), height)
	if err != nil {
		return nil, err
	}
	id := new(lib.CommitID)
	if err = lib.UnmarshalJSON(bz, id); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *Store) GetBlock(height uint64) (*lib.BlockProposal, lib.ErrorI) {
	bz, err := s.mustGet("block", heightKey(blockPrefix, height), height)
	if err != nil {
		return nil, err
	}
	block := new(lib.BlockProposal)
	if err = lib.UnmarshalJSON(bz, block); err != nil {
		return nil, err
	}
	return block, nil
}

func (s *Store) GetBlockByHash(hash []byte) (*lib.BlockProposal, lib.ErrorI) {
	bz, err := s.get(hashKey(hash))
	if err != nil {
		return nil, err
	}
	if len(bz) != 8 {
		return nil, ErrNotFound("block " + lib.HexBytes(hash).String())
	}
	return s.GetBlock(binary.BigEndian.Uint64(bz))
}

// GetQC() returns the commit certificate of a height
func (s *Store) GetQC(height uint64) (*lib.QuorumCertificate, lib.ErrorI) {
	bz, err := s.mustGet("certificate", heightKey(qcPrefix, height), height)
	if err != nil {
		return nil, err
	}
	return lib.NewQuorumCertificateFromBytes(bz)
}

// SaveCheckpoint() persists a checkpoint certificate under its height
func (s *Store) SaveCheckpoint(cert *lib.CheckpointCertificate) lib.ErrorI {
	if cert == nil {
		return lib.ErrNilCertificate()
	}
	if e := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(heightKey(checkpointPrefix, cert.Height), cert.Bytes())
	}); e != nil {
		return ErrSetDB(e)
	}
	return nil
}

// GetCheckpoint() returns nil if no checkpoint was emitted at the height
func (s *Store) GetCheckpoint(height uint64) (*lib.CheckpointCertificate, lib.ErrorI) {
	bz, err := s.get(heightKey(checkpointPrefix, height))
	if err != nil || bz == nil {
		return nil, err
	}
	return lib.NewCheckpointFromBytes(bz)
}

// LatestCheckpoint() returns nil if no checkpoint was ever saved
func (s *Store) LatestCheckpoint() (cert *lib.CheckpointCertificate, err lib.ErrorI) {
	if e := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse, opts.Prefix = true, checkpointPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		// in reverse mode seek lands on the largest key before the end of the prefix
		if it.Seek(PrefixEndBytes(checkpointPrefix)); !it.Valid() {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			cert, err = lib.NewCheckpointFromBytes(val)
			return nil
		})
	}); e != nil {
		return nil, ErrGetDB(e)
	}
	return
}

// Checkpoints() lists up to limit certificates starting at fromHeight in height order; a limit <= 0 means no limit
func (s *Store) Checkpoints(fromHeight uint64, limit int) (certs []*lib.CheckpointCertificate, err lib.ErrorI) {
	if e := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = checkpointPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(heightKey(checkpointPrefix, fromHeight)); it.Valid(); it.Next() {
			if limit > 0 && len(certs) >= limit {
				return nil
			}
			var cert *lib.CheckpointCertificate
			if e := it.Item().Value(func(val []byte) error {
				cert, err = lib.NewCheckpointFromBytes(val)
				return nil
			}); e != nil {
				return e
			}
			if err != nil {
				return nil
			}
			certs = append(certs, cert)
		}
		return nil
	}); e != nil {
		return nil, ErrGetDB(e)
	}
	if err != nil {
		return nil, err
	}
	return
}

// Close() gracefully stops the database
func (s *Store) Close() lib.ErrorI {
	if err := s.db.Close(); err != nil {
		return ErrCloseDB(err)
	}
	return nil
}

// get() returns nil if the key doesn't exist
func (s *Store) get(key []byte) (value []byte, err lib.ErrorI) {
	e := s.db.View(func(txn *badger.Txn) error {
		item, er := txn.Get(key)
		if er != nil {
			return er
		}
		value, er = item.ValueCopy(nil)
		return er
	})
	switch {
	case errors.Is(e, badger.ErrKeyNotFound):
		return nil, nil
	case e != nil:
		return nil, ErrGetDB(e)
	}
	return
}

// mustGet() is get() where a missing key is an error
func (s *Store) mustGet(what string, key []byte, height uint64) ([]byte, lib.ErrorI) {
	bz, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if bz == nil {
		return nil, ErrNotFound(fmt.Sprintf("%s at height %d", what, height))
	}
	return bz, nil
}

// badgerLogger routes badger's logs to the node logger
type badgerLogger struct{ lib.LoggerI }

func (l badgerLogger) Warningf(format string, args ...interface{}) { l.Warnf(format, args...) }
