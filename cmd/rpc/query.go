package rpc

import (
	"net/http"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/store"
	"github.com/julienschmidt/httprouter"
)

// Version returns the software version
func (s *Server) Version(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, SoftwareVersion, http.StatusOK)
}

// Transaction gossips a transaction to the mempool of every validator
func (s *Server) Transaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(txRequest)
	if !unmarshal(w, r, req) {
		return
	}
	if err := s.net.SendTx([]byte(req.Tx)); err != nil {
		write(w, err, http.StatusBadRequest)
		return
	}
	write(w, txResponse{Accepted: len(s.net.Nodes)}, http.StatusOK)
}

// Height returns the latest committed height with its block hash and state root
func (s *Server) Height(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(nodeRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	write(w, heightResponse{
		Height:    node.LatestCommittedHeight(),
		BlockHash: node.LastBlockHash(),
		StateRoot: node.StateRoot(),
	}, http.StatusOK)
}

// Status returns the state machine snapshot of a validator
func (s *Server) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(nodeRequest)
	if !unmarshal(w, r, req) {
		return
	}
	if _, ok := s.node(w, req.Node); !ok {
		return
	}
	write(w, s.nodeStatus(req.Node), http.StatusOK)
}

func (s *Server) BlockByHeight(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(heightRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	block, err := node.Store.GetBlock(req.Height)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	id, err := node.Store.GetCommitID(req.Height)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	write(w, blockResponse{Block: block, CommitID: id}, http.StatusOK)
}

func (s *Server) BlockByHash(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(hashRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	block, err := node.Store.GetBlockByHash(req.Hash)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	id, err := node.Store.GetCommitID(block.Round.Height)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	write(w, blockResponse{Block: block, CommitID: id}, http.StatusOK)
}

// CertByHeight returns the commit certificate of a height
func (s *Server) CertByHeight(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(heightRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	qc, err := node.Store.GetQC(req.Height)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	write(w, qc, http.StatusOK)
}

// Checkpoint returns the checkpoint certificate at a height, or the latest one for height 0
func (s *Server) Checkpoint(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(heightRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	var (
		cert *lib.CheckpointCertificate
		err  lib.ErrorI
	)
	if req.Height == 0 {
		cert, err = node.Store.LatestCheckpoint()
	} else {
		cert, err = node.Store.GetCheckpoint(req.Height)
	}
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if cert == nil {
		writeQueryError(w, store.ErrNotFound("checkpoint"))
		return
	}
	write(w, cert, http.StatusOK)
}

// Checkpoints pages through the persisted checkpoint chain in height order
func (s *Server) Checkpoints(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(pageRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	certs, err := node.Store.Checkpoints(req.From, req.Limit)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if certs == nil {
		certs = []*lib.CheckpointCertificate{}
	}
	write(w, certs, http.StatusOK)
}

// Evidence lists the misbehavior a validator observed
func (s *Server) Evidence(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(nodeRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	write(w, node.Evidence(), http.StatusOK)
}

// ValidatorSet returns the set in force at the current height of a validator
func (s *Server) ValidatorSet(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := new(nodeRequest)
	if !unmarshal(w, r, req) {
		return
	}
	node, ok := s.node(w, req.Node)
	if !ok {
		return
	}
	write(w, node.Registry.CurrentSet(), http.StatusOK)
}

func (s *Server) nodeStatus(i int) nodeStatus {
	node := s.net.Nodes[i]
	return nodeStatus{
		Node:    i,
		NodeId:  node.NodeId,
		Status:  node.Consensus.Status(),
		Dropped: node.P2P.Dropped(),
	}
}
