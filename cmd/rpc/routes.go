package rpc

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// Metanode RPC Paths
const (
	VersionRoutePath       = "/v1/"
	TxRoutePath            = "/v1/tx"
	HeightRoutePath        = "/v1/query/height"
	StatusRoutePath        = "/v1/query/status"
	BlockByHeightRoutePath = "/v1/query/block-by-height"
	BlockByHashRoutePath   = "/v1/query/block-by-hash"
	CertByHeightRoutePath  = "/v1/query/cert-by-height"
	CheckpointRoutePath    = "/v1/query/checkpoint"
	CheckpointsRoutePath   = "/v1/query/checkpoints"
	EvidenceRoutePath      = "/v1/query/evidence"
	ValidatorSetRoutePath  = "/v1/query/validator-set"
	// admin
	ResourceUsageRoutePath = "/v1/admin/resource-usage"
	ConsensusInfoRoutePath = "/v1/admin/consensus-info"
	ConfigRoutePath        = "/v1/admin/config"
	ConfigDiffRoutePath    = "/v1/admin/config-diff"
)

const (
	VersionRouteName       = "version"
	TxRouteName            = "tx"
	HeightRouteName        = "height"
	StatusRouteName        = "status"
	BlockByHeightRouteName = "block-by-height"
	BlockByHashRouteName   = "block-by-hash"
	CertByHeightRouteName  = "cert-by-height"
	CheckpointRouteName    = "checkpoint"
	CheckpointsRouteName   = "checkpoints"
	EvidenceRouteName      = "evidence"
	ValidatorSetRouteName  = "validator-set"
	// admin
	ResourceUsageRouteName = "resource-usage"
	ConsensusInfoRouteName = "consensus-info"
	ConfigRouteName        = "config"
	ConfigDiffRouteName    = "config-diff"
)

type routes map[string]struct {
	Method string
	Path   string
}

var routePaths = routes{
	VersionRouteName:       {Method: http.MethodGet, Path: VersionRoutePath},
	TxRouteName:            {Method: http.MethodPost, Path: TxRoutePath},
	HeightRouteName:        {Method: http.MethodPost, Path: HeightRoutePath},
	StatusRouteName:        {Method: http.MethodPost, Path: StatusRoutePath},
	BlockByHeightRouteName: {Method: http.MethodPost, Path: BlockByHeightRoutePath},
	BlockByHashRouteName:   {Method: http.MethodPost, Path: BlockByHashRoutePath},
	CertByHeightRouteName:  {Method: http.MethodPost, Path: CertByHeightRoutePath},
	CheckpointRouteName:    {Method: http.MethodPost, Path: CheckpointRoutePath},
	CheckpointsRouteName:   {Method: http.MethodPost, Path: CheckpointsRoutePath},
	EvidenceRouteName:      {Method: http.MethodPost, Path: EvidenceRoutePath},
	ValidatorSetRouteName:  {Method: http.MethodPost, Path: ValidatorSetRoutePath},
	ResourceUsageRouteName: {Method: http.MethodGet, Path: ResourceUsageRoutePath},
	ConsensusInfoRouteName: {Method: http.MethodGet, Path: ConsensusInfoRoutePath},
	ConfigRouteName:        {Method: http.MethodGet, Path: ConfigRoutePath},
	ConfigDiffRouteName:    {Method: http.MethodGet, Path: ConfigDiffRoutePath},
}

type httpRouteHandlers map[string]httprouter.Handle

func createRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		VersionRouteName:       s.Version,
		TxRouteName:            s.Transaction,
		HeightRouteName:        s.Height,
		StatusRouteName:        s.Status,
		BlockByHeightRouteName: s.BlockByHeight,
		BlockByHashRouteName:   s.BlockByHash,
		CertByHeightRouteName:  s.CertByHeight,
		CheckpointRouteName:    s.Checkpoint,
		CheckpointsRouteName:   s.Checkpoints,
		EvidenceRouteName:      s.Evidence,
		ValidatorSetRouteName:  s.ValidatorSet,
	}
	return newRouter(r)
}

func createAdminRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		ResourceUsageRouteName: s.ResourceUsage,
		ConsensusInfoRouteName: s.ConsensusInfo,
		ConfigRouteName:        s.Config,
		ConfigDiffRouteName:    s.ConfigDiff,
	}
	return newRouter(r)
}

func newRouter(handlers httpRouteHandlers) *httprouter.Router {
	router := httprouter.New()
	for name, handler := range handlers {
		route := routePaths[name]
		router.Handle(route.Method, route.Path, handler)
	}
	return router
}
