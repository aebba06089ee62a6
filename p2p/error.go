package p2p

import (
	"fmt"

	"github.com/canopy-network/metanode/lib"
)

func ErrPeerAlreadyExists(id string) lib.ErrorI {
	return lib.NewError(lib.CodeDuplicatePeer, lib.P2PModule, fmt.Sprintf("peer %s already exists", id))
}

func ErrPeerNotFound(id string) lib.ErrorI {
	return lib.NewError(lib.CodeUnknownPeer, lib.P2PModule, fmt.Sprintf("peer %s not found", id))
}
