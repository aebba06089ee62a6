package lib

/* This file contains persistence module interfaces that are used throughout the app */

// StoreI defines the interface for the ledger of decided blocks
type StoreI interface {
	RStoreI
	// CommitBlock() atomically writes the block, its commit certificate and the next commit id
	CommitBlock(height uint64, proposal *BlockProposal, qc *QuorumCertificate) ErrorI
	SaveCheckpoint(cert *CheckpointCertificate) ErrorI
	Close() ErrorI // gracefully stop the database
}

// RStoreI is the read only view of the ledger, served by the query api
type RStoreI interface {
	LatestCommittedHeight() uint64
	LastBlockHash() []byte
	StateRoot() []byte
	GetCommitID(height uint64) (*CommitID, ErrorI)
	GetBlock(height uint64) (*BlockProposal, ErrorI)
	GetBlockByHash(hash []byte) (*BlockProposal, ErrorI)
	GetQC(height uint64) (*QuorumCertificate, ErrorI)
	LatestCheckpoint() (*CheckpointCertificate, ErrorI)
	GetCheckpoint(height uint64) (*CheckpointCertificate, ErrorI)
	Checkpoints(fromHeight uint64, limit int) ([]*CheckpointCertificate, ErrorI)
}

// CommitID identifies a committed height: the block decided and the state root after applying it
type CommitID struct {
	Height    uint64   `json:"height"`
	BlockHash HexBytes `json:"blockHash"`
	StateRoot HexBytes `json:"stateRoot"`
}
