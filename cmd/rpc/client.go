package rpc

import (
	"bytes"
	"io"
	"net/http"

	"github.com/canopy-network/metanode/bft"
	"github.com/canopy-network/metanode/lib"
)

// Client queries a running metanode over its query and admin apis
type Client struct {
	rpcURL   string
	adminURL string
	client   http.Client
}

// NewClient takes the base urls of the query and admin servers, like http://localhost:50002
func NewClient(rpcURL, adminURL string) *Client {
	return &Client{rpcURL: rpcURL, adminURL: adminURL, client: http.Client{}}
}

// NewLocalClient addresses the servers of the local config
func NewLocalClient(config lib.RPCConfig) *Client {
	return NewClient("http://"+localhost+colon+config.RPCPort, "http://"+localhost+colon+config.AdminPort)
}

func (c *Client) Version() (version *string, err lib.ErrorI) {
	version = new(string)
	err = c.get(VersionRouteName, version)
	return
}

func (c *Client) Transaction(tx string) (p *txResponse, err lib.ErrorI) {
	p = new(txResponse)
	bz, err := lib.MarshalJSON(txRequest{Tx: tx})
	if err != nil {
		return
	}
	err = c.post(TxRouteName, bz, p)
	return
}

func (c *Client) Height(node int) (p *heightResponse, err lib.ErrorI) {
	p = new(heightResponse)
	err = c.nodeRequest(HeightRouteName, node, p)
	return
}

func (c *Client) Status(node int) (p *nodeStatus, err lib.ErrorI) {
	p = new(nodeStatus)
	err = c.nodeRequest(StatusRouteName, node, p)
	return
}

func (c *Client) BlockByHeight(node int, height uint64) (p *blockResponse, err lib.ErrorI) {
	p = new(blockResponse)
	err = c.heightRequest(BlockByHeightRouteName, node, height, p)
	return
}

func (c *Client) BlockByHash(node int, hash lib.HexBytes) (p *blockResponse, err lib.ErrorI) {
	p = new(blockResponse)
	bz, err := lib.MarshalJSON(hashRequest{nodeRequest: nodeRequest{Node: node}, Hash: hash})
	if err != nil {
		return
	}
	err = c.post(BlockByHashRouteName, bz, p)
	return
}

func (c *Client) CertByHeight(node int, height uint64) (p *lib.QuorumCertificate, err lib.ErrorI) {
	p = new(lib.QuorumCertificate)
	err = c.heightRequest(CertByHeightRouteName, node, height, p)
	return
}

// Checkpoint returns the latest checkpoint when height is 0
func (c *Client) Checkpoint(node int, height uint64) (p *lib.CheckpointCertificate, err lib.ErrorI) {
	p = new(lib.CheckpointCertificate)
	err = c.heightRequest(CheckpointRouteName, node, height, p)
	return
}

func (c *Client) Checkpoints(node int, from uint64, limit int) (p []*lib.CheckpointCertificate, err lib.ErrorI) {
	bz, err := lib.MarshalJSON(pageRequest{nodeRequest: nodeRequest{Node: node}, From: from, Limit: limit})
	if err != nil {
		return
	}
	err = c.post(CheckpointsRouteName, bz, &p)
	return
}

func (c *Client) Evidence(node int) (p []*bft.Evidence, err lib.ErrorI) {
	err = c.nodeRequest(EvidenceRouteName, node, &p)
	return
}

func (c *Client) ValidatorSet(node int) (p *lib.ValidatorSet, err lib.ErrorI) {
	p = new(lib.ValidatorSet)
	err = c.nodeRequest(ValidatorSetRouteName, node, p)
	return
}

func (c *Client) ResourceUsage() (returned *resourceUsageResponse, err lib.ErrorI) {
	returned = new(resourceUsageResponse)
	err = c.get(ResourceUsageRouteName, returned, true)
	return
}

func (c *Client) ConsensusInfo() (returned []nodeStatus, err lib.ErrorI) {
	err = c.get(ConsensusInfoRouteName, &returned, true)
	return
}

func (c *Client) Config() (returned *lib.Config, err lib.ErrorI) {
	returned = new(lib.Config)
	err = c.get(ConfigRouteName, returned, true)
	return
}

// ConfigDiff returns the console rendering of the config changes, empty when the node runs the defaults
func (c *Client) ConfigDiff() (string, lib.ErrorI) {
	resp, err := c.client.Get(c.url(ConfigDiffRouteName, true))
	if err != nil {
		return "", ErrGetRequest(err)
	}
	defer func() { _ = resp.Body.Close() }()
	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ErrReadBody(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", ErrHttpStatus(resp.Status, resp.StatusCode, bz)
	}
	return string(bz), nil
}

func (c *Client) nodeRequest(routeName string, node int, ptr any) lib.ErrorI {
	bz, err := lib.MarshalJSON(nodeRequest{Node: node})
	if err != nil {
		return err
	}
	return c.post(routeName, bz, ptr)
}

func (c *Client) heightRequest(routeName string, node int, height uint64, ptr any) lib.ErrorI {
	bz, err := lib.MarshalJSON(heightRequest{nodeRequest: nodeRequest{Node: node}, Height: height})
	if err != nil {
		return err
	}
	return c.post(routeName, bz, ptr)
}

func (c *Client) url(routeName string, admin ...bool) string {
	if admin != nil && admin[0] {
		return c.adminURL + routePaths[routeName].Path
	}
	return c.rpcURL + routePaths[routeName].Path
}

func (c *Client) post(routeName string, json []byte, ptr any, admin ...bool) lib.ErrorI {
	resp, err := c.client.Post(c.url(routeName, admin...), ApplicationJSON, bytes.NewBuffer(json))
	if err != nil {
		return ErrPostRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) get(routeName string, ptr any, admin ...bool) lib.ErrorI {
	resp, err := c.client.Get(c.url(routeName, admin...))
	if err != nil {
		return ErrGetRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) unmarshal(resp *http.Response, ptr any) lib.ErrorI {
	defer func() { _ = resp.Body.Close() }()
	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrReadBody(err)
	}
	if resp.StatusCode != http.StatusOK {
		return ErrHttpStatus(resp.Status, resp.StatusCode, bz)
	}
	return lib.UnmarshalJSON(bz, ptr)
}
