package rpc

import (
	"github.com/canopy-network/metanode/bft"
	"github.com/canopy-network/metanode/lib"
)

// every query names the localnet validator answering it, 0 by default
type nodeRequest struct {
	Node int `json:"node"`
}

type heightRequest struct {
	nodeRequest
	Height uint64 `json:"height"`
}

type hashRequest struct {
	nodeRequest
	Hash lib.HexBytes `json:"hash"`
}

type pageRequest struct {
	nodeRequest
	From  uint64 `json:"from"`
	Limit int    `json:"limit"`
}

type txRequest struct {
	Tx string `json:"tx"`
}

type txResponse struct {
	Accepted int `json:"accepted"` // the number of mempools the transaction entered
}

type heightResponse struct {
	Height    uint64       `json:"height"`
	BlockHash lib.HexBytes `json:"blockHash"`
	StateRoot lib.HexBytes `json:"stateRoot"`
}

type nodeStatus struct {
	Node    int          `json:"node"`
	NodeId  lib.HexBytes `json:"nodeId"`
	Status  *bft.Status  `json:"status"`
	Dropped uint64       `json:"dropped"` // inbound messages lost to a full inbox
}

type blockResponse struct {
	Block    *lib.BlockProposal `json:"block"`
	CommitID *lib.CommitID      `json:"commitId"`
}

type ProcessResourceUsage struct {
	Name          string  `json:"name"`
	Status        string  `json:"status"`
	CreateTime    string  `json:"createTime"`
	FDCount       int32   `json:"fdCount"`
	ThreadCount   int32   `json:"threadCount"`
	MemoryPercent float32 `json:"usedMemoryPercent"`
	CPUPercent    float64 `json:"usedCPUPercent"`
}

type SystemResourceUsage struct {
	// ram
	TotalRAM       uint64  `json:"totalRAM"`
	AvailableRAM   uint64  `json:"availableRAM"`
	UsedRAM        uint64  `json:"usedRAM"`
	UsedRAMPercent float64 `json:"usedRAMPercent"`
	FreeRAM        uint64  `json:"freeRAM"`
	// CPU
	UsedCPUPercent float64 `json:"usedCPUPercent"`
	UserCPU        float64 `json:"userCPU"`
	SystemCPU      float64 `json:"systemCPU"`
	IdleCPU        float64 `json:"idleCPU"`
	// disk
	TotalDisk       uint64  `json:"totalDisk"`
	UsedDisk        uint64  `json:"usedDisk"`
	UsedDiskPercent float64 `json:"usedDiskPercent"`
	FreeDisk        uint64  `json:"freeDisk"`
	// network
	ReceivedBytes uint64 `json:"ReceivedBytes"`
	WrittenBytes  uint64 `json:"WrittenBytes"`
}

type resourceUsageResponse struct {
	Process ProcessResourceUsage `json:"process"`
	System  SystemResourceUsage  `json:"system"`
}
