package controller

import (
	"context"
	"fmt"

	"github.com/canopy-network/metanode/lib"
	"github.com/canopy-network/metanode/lib/crypto"
	"github.com/canopy-network/metanode/p2p"
	"github.com/canopy-network/metanode/store"
	"golang.org/x/sync/errgroup"
)

/* This file runs a whole validator set in one process over the in-memory hub */

// Localnet is a set of validator nodes sharing a hub
type Localnet struct {
	Nodes   []*Controller
	Hub     *p2p.Hub
	Genesis *lib.ValidatorSet
	log     lib.LoggerI
}

// ValidatorKeys() derives the deterministic consensus and vrf keys of localnet validator i
func ValidatorKeys(i int) (valKey, vrfKey crypto.PrivateKeyI, err error) {
	seed := []byte(fmt.Sprintf("localnet-validator-%d", i))
	if valKey, err = crypto.NewBLSPrivateKeyFromSeed(seed, crypto.ConsensusKeyInfo); err != nil {
		return
	}
	vrfKey, err = crypto.NewBLSPrivateKeyFromSeed(seed, crypto.VRFKeyInfo)
	return
}

// NewLocalnet() creates one node per stake. Node i stores its ledger in database <dbName>-i, or in memory. Only the
// first node reports metrics
func NewLocalnet(c lib.Config, stakes []uint64, m *lib.Metrics, l lib.LoggerI) (*Localnet, lib.ErrorI) {
	type keys struct{ val, vrf crypto.PrivateKeyI }
	var (
		all  []keys
		vals []*lib.Validator
	)
	for i, stake := range stakes {
		valKey, vrfKey, err := ValidatorKeys(i)
		if err != nil {
			return nil, lib.ErrInvalidArgument(err.Error())
		}
		all = append(all, keys{valKey, vrfKey})
		vals = append(vals, &lib.Validator{
			NodeId:       lib.NodeIdFromPublicKey(valKey.PublicKey().Bytes()),
			BLSPublicKey: valKey.PublicKey().Bytes(),
			VRFPublicKey: vrfKey.PublicKey().Bytes(),
			Stake:        stake,
		})
	}
	genesis, err := lib.NewValidatorSet(vals, 1)
	if err != nil {
		return nil, err
	}
	net := &Localnet{Hub: p2p.NewHub(l), Genesis: genesis, log: l}
	for i, k := range all {
		nodeConfig := c
		nodeConfig.DBName = fmt.Sprintf("%s-%d", c.DBName, i)
		s, e := store.New(nodeConfig, l)
		if e != nil {
			net.Close()
			return nil, e
		}
		if i != 0 {
			m = nil
		}
		node, e := New(nodeConfig, k.val, k.vrf, genesis, s, net.Hub, m, l)
		if e != nil {
			s.Close()
			net.Close()
			return nil, e
		}
		l.Debugf("Localnet validator %d is %s", i, lib.BytesToTruncatedString(node.NodeId))
		net.Nodes = append(net.Nodes, node)
	}
	return net, nil
}

// Start() runs every node until ctx is done or one of them fails
func (n *Localnet) Start(ctx context.Context) lib.ErrorI {
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range n.Nodes {
		node := node
		g.Go(func() error {
			if err := node.Start(gctx); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err.(lib.ErrorI)
	}
	return nil
}

// SendTx() gives a transaction to every node, as gossip would
func (n *Localnet) SendTx(tx []byte) lib.ErrorI {
	for _, node := range n.Nodes {
		if err := node.SendTx(tx); err != nil {
			return err
		}
	}
	return nil
}

// Close() closes the stores once the nodes stopped
func (n *Localnet) Close() {
	for _, node := range n.Nodes {
		if err := node.Store.Close(); err != nil {
			n.log.Error(err.Error())
		}
	}
}
