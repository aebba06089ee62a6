package rpc

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/canopy-network/metanode/lib"
	"github.com/julienschmidt/httprouter"
	"github.com/nsf/jsondiff"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ConsensusInfo returns the state machine snapshot of every validator in the localnet
func (s *Server) ConsensusInfo(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	statuses := make([]nodeStatus, len(s.net.Nodes))
	for i := range s.net.Nodes {
		statuses[i] = s.nodeStatus(i)
	}
	write(w, statuses, http.StatusOK)
}

// Config retrieves the node's configuration file
func (s *Server) Config(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	write(w, s.config, http.StatusOK)
}

// ConfigDiff prints how the running configuration departs from the defaults
func (s *Server) ConfigDiff(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	j1, _ := json.Marshal(lib.DefaultConfig())
	j2, _ := json.Marshal(s.config)
	opts := jsondiff.DefaultConsoleOptions()
	difference, differ := jsondiff.Compare(j1, j2, &opts)
	if difference == jsondiff.FullMatch {
		differ = ""
	}
	w.Header().Set(ContentType, "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(differ))
}

// ResourceUsage reports the footprint of the process and of the host
func (s *Server) ResourceUsage(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	usage, err := resourceUsage()
	if err != nil {
		write(w, ErrResourceUsage(err), http.StatusInternalServerError)
		return
	}
	write(w, usage, http.StatusOK)
}

func resourceUsage() (*resourceUsageResponse, error) {
	pm, err := mem.VirtualMemory() // os memory
	if err != nil {
		return nil, err
	}
	c, err := cpu.Times(false) // os cpu
	if err != nil {
		return nil, err
	}
	cp, err := cpu.Percent(0, false) // os cpu percent
	if err != nil {
		return nil, err
	}
	d, err := disk.Usage("/") // os disk
	if err != nil {
		return nil, err
	}
	ioCounters, err := net.IOCounters(false)
	if err != nil {
		return nil, err
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	name, err := p.Name()
	if err != nil {
		return nil, err
	}
	status, err := p.Status()
	if err != nil {
		return nil, err
	}
	utc, err := p.CreateTime() // milliseconds
	if err != nil {
		return nil, err
	}
	fds, err := p.NumFDs()
	if err != nil {
		return nil, err
	}
	numThreads, err := p.NumThreads()
	if err != nil {
		return nil, err
	}
	memPercent, err := p.MemoryPercent()
	if err != nil {
		return nil, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return nil, err
	}
	usage := &resourceUsageResponse{
		Process: ProcessResourceUsage{
			Name:          name,
			Status:        strings.Join(status, ","),
			CreateTime:    time.UnixMilli(utc).Format(time.RFC822),
			FDCount:       fds,
			ThreadCount:   numThreads,
			MemoryPercent: memPercent,
			CPUPercent:    cpuPercent,
		},
		System: SystemResourceUsage{
			TotalRAM:        pm.Total,
			AvailableRAM:    pm.Available,
			UsedRAM:         pm.Used,
			UsedRAMPercent:  pm.UsedPercent,
			FreeRAM:         pm.Free,
			TotalDisk:       d.Total,
			UsedDisk:        d.Used,
			UsedDiskPercent: d.UsedPercent,
			FreeDisk:        d.Free,
		},
	}
	// the aggregated counters come back as a single entry, when the platform reports any
	if len(cp) > 0 {
		usage.System.UsedCPUPercent = cp[0]
	}
	if len(c) > 0 {
		usage.System.UserCPU, usage.System.SystemCPU, usage.System.IdleCPU = c[0].User, c[0].System, c[0].Idle
	}
	if len(ioCounters) > 0 {
		usage.System.ReceivedBytes, usage.System.WrittenBytes = ioCounters[0].BytesRecv, ioCounters[0].BytesSent
	}
	return usage, nil
}
