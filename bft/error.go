package bft

import (
	"fmt"

	"github.com/canopy-network/metanode/lib"
)

func ErrQuorumUnreachable(height uint64, round uint32) lib.ErrorI {
	return lib.NewError(lib.CodeQuorumUnreachable, lib.ConsensusModule, fmt.Sprintf("no quorum before the deadline of height %d round %d", height, round))
}

func ErrEquivocationDetected(nodeId []byte, phase lib.Phase) lib.ErrorI {
	return lib.NewError(lib.CodeEquivocationDetected, lib.ConsensusModule, fmt.Sprintf("validator %x equivocated in phase %s", nodeId, phase))
}

func ErrInvalidLeader(got, expected []byte) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidLeader, lib.ConsensusModule, fmt.Sprintf("proposal from %x but the leader is %x", got, expected))
}

func ErrInvalidVRFProof() lib.ErrorI {
	return lib.NewError(lib.CodeInvalidVRFProof, lib.ConsensusModule, "invalid vrf proof")
}

func ErrInvalidProposal(reason string) lib.ErrorI {
	return lib.NewError(lib.CodeInvalidProposal, lib.ConsensusModule, "invalid proposal: "+reason)
}

func ErrLockedOnOtherBlock(locked []byte) lib.ErrorI {
	return lib.NewError(lib.CodeLockedOnOtherBlock, lib.ConsensusModule, fmt.Sprintf("locked on block %s", lib.BytesToTruncatedString(locked)))
}

func ErrEmptyMessage() lib.ErrorI {
	return lib.NewError(lib.CodeEmptyMessage, lib.ConsensusModule, "empty consensus message")
}

func ErrFutureMessage(height uint64, round uint32) lib.ErrorI {
	return lib.NewError(lib.CodeFutureMessage, lib.ConsensusModule, fmt.Sprintf("unbuffered message for height %d round %d", height, round))
}

func ErrUnableToAddSigner(err error) lib.ErrorI {
	return lib.NewError(lib.CodeUnableToAddSigner, lib.ConsensusModule, fmt.Sprintf("multiKey.AddSigner() failed with err: %s", err.Error()))
}

func ErrLedgerFailure(height uint64, err lib.ErrorI) lib.ErrorI {
	return lib.NewError(lib.CodeLedgerFailure, lib.ConsensusModule, fmt.Sprintf("ledger refused decided height %d: %s", height, err.Error()))
}
