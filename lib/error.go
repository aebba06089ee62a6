package lib

import (
	"fmt"
	"math"
)

type ErrorI interface {
	Code() ErrorCode     // Returns the error code
	Module() ErrorModule // Returns the error module
	error                // Implements the built-in error interface
}

var _ ErrorI = &Error{} // Ensures *Error implements ErrorI

type ErrorCode uint32 // Defines a type for error codes

type ErrorModule string // Defines a type for error modules

type Error struct {
	ECode   ErrorCode   `json:"code"`   // Error code
	EModule ErrorModule `json:"module"` // Error module
	Msg     string      `json:"msg"`    // Error message
}

// NewError() constructs a new Error instance
func NewError(code ErrorCode, module ErrorModule, msg string) *Error {
	return &Error{ECode: code, EModule: module, Msg: msg}
}

// Code() returns the associated error code
func (p *Error) Code() ErrorCode { return p.ECode }

// Module() returns module field
func (p *Error) Module() ErrorModule { return p.EModule }

// String() calls Error()
func (p *Error) String() string { return p.Error() }

// Error() returns a formatted string including module, code and message
func (p *Error) Error() string {
	return fmt.Sprintf("\nModule:  %s\nCode:    %d\nMessage: %s", p.EModule, p.ECode, p.Msg)
}

// Is() allows errors.Is to match two errors of the same module and code
func (p *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.ECode == p.ECode && t.EModule == p.EModule
}

const (
	NoCode ErrorCode = math.MaxUint32

	// Main Module
	MainModule ErrorModule = "main"

	// Main Module Error Codes
	CodeJSONMarshal        ErrorCode = 1
	CodeJSONUnmarshal      ErrorCode = 2
	CodeUnmarshal          ErrorCode = 3
	CodeStringToBytes      ErrorCode = 4
	CodeReadFile           ErrorCode = 5
	CodeWriteFile          ErrorCode = 6
	CodeInvalidConfig      ErrorCode = 7
	CodeInvalidArgument    ErrorCode = 8
	CodeNilProposal        ErrorCode = 9
	CodeNilCertificate     ErrorCode = 10
	CodeMempoolFull        ErrorCode = 11
	CodeTxTooLarge         ErrorCode = 12
	CodeInvalidPublicKey   ErrorCode = 13
	CodeDuplicateValidator ErrorCode = 14
	CodeZeroStake          ErrorCode = 15
	CodeStakeOverflow      ErrorCode = 16

	// Consensus Module
	ConsensusModule ErrorModule = "consensus"

	// Consensus Module Error Codes
	CodeInvalidSignature      ErrorCode = 1
	CodeStaleRound            ErrorCode = 2
	CodeStaleHeight           ErrorCode = 3
	CodeUninitializedAnchor   ErrorCode = 4
	CodeQuorumUnreachable     ErrorCode = 5
	CodeEquivocationDetected  ErrorCode = 6
	CodeValidatorSetTooSmall  ErrorCode = 7
	CodeInvalidLeader         ErrorCode = 8
	CodeInvalidVRFProof       ErrorCode = 9
	CodeInvalidProposal       ErrorCode = 10
	CodeInvalidTimeAnchorTick ErrorCode = 11
	CodeUnknownValidator      ErrorCode = 12
	CodeInvalidQC             ErrorCode = 13
	CodeUnableToAddSigner     ErrorCode = 14
	CodeAggregateSignature    ErrorCode = 15
	CodeLockedOnOtherBlock    ErrorCode = 16
	CodeEmptyMessage          ErrorCode = 17
	CodeFutureMessage         ErrorCode = 18
	CodeInvalidBitmap         ErrorCode = 19
	CodeLedgerFailure         ErrorCode = 20

	// Checkpoint Module
	CheckpointModule ErrorModule = "checkpoint"

	// Checkpoint Module Error Codes
	CodeBrokenCheckpointLink ErrorCode = 1
	CodeCheckpointNotFound   ErrorCode = 2
	CodeInvalidInterval      ErrorCode = 3
	CodeAnchorQueueFull      ErrorCode = 4
	CodeAnchorPublish        ErrorCode = 5

	// Storage Module
	StorageModule ErrorModule = "store"

	// Storage Module Error Codes
	CodeOpenDB       ErrorCode = 1
	CodeCloseDB      ErrorCode = 2
	CodeGetDB        ErrorCode = 3
	CodeSetDB        ErrorCode = 4
	CodeCommitDB     ErrorCode = 5
	CodeNotFound     ErrorCode = 6
	CodeOutOfOrder   ErrorCode = 7
	CodeNilStateRoot ErrorCode = 8

	// P2P Module
	P2PModule ErrorModule = "p2p"

	// P2P Module Error Codes
	CodeDuplicatePeer ErrorCode = 1
	CodeUnknownPeer   ErrorCode = 2

	// RPC Module
	RPCModule ErrorModule = "rpc"

	// RPC Module Error Codes
	CodeRPCTimeout    ErrorCode = 1
	CodeInvalidParams ErrorCode = 2
	CodeResourceUsage ErrorCode = 3
	CodeUnknownNode   ErrorCode = 4
	CodePostRequest   ErrorCode = 5
	CodeGetRequest    ErrorCode = 6
	CodeHttpStatus    ErrorCode = 7
	CodeReadBody      ErrorCode = 8
)

func ErrJSONMarshal(err error) ErrorI {
	return NewError(CodeJSONMarshal, MainModule, fmt.Sprintf("json.marshal() failed with err: %s", err.Error()))
}

func ErrJSONUnmarshal(err error) ErrorI {
	return NewError(CodeJSONUnmarshal, MainModule, fmt.Sprintf("json.unmarshal() failed with err: %s", err.Error()))
}

func ErrUnmarshal(err error) ErrorI {
	return NewError(CodeUnmarshal, MainModule, fmt.Sprintf("unmarshal() failed with err: %s", err.Error()))
}

func ErrStringToBytes(err error) ErrorI {
	return NewError(CodeStringToBytes, MainModule, fmt.Sprintf("stringToBytes() failed with err: %s", err.Error()))
}

func ErrReadFile(err error) ErrorI {
	return NewError(CodeReadFile, MainModule, fmt.Sprintf("os.ReadFile() failed with err: %s", err.Error()))
}

func ErrWriteFile(err error) ErrorI {
	return NewError(CodeWriteFile, MainModule, fmt.Sprintf("os.WriteFile() failed with err: %s", err.Error()))
}

func ErrInvalidConfig(reason string) ErrorI {
	return NewError(CodeInvalidConfig, MainModule, "invalid config: "+reason)
}

func ErrInvalidArgument(reason string) ErrorI {
	return NewError(CodeInvalidArgument, MainModule, "invalid argument: "+reason)
}

func ErrNilProposal() ErrorI {
	return NewError(CodeNilProposal, MainModule, "proposal is nil")
}

func ErrNilCertificate() ErrorI {
	return NewError(CodeNilCertificate, MainModule, "certificate is nil")
}

func ErrMempoolFull() ErrorI {
	return NewError(CodeMempoolFull, MainModule, "mempool is full")
}

func ErrTxTooLarge(size, max int) ErrorI {
	return NewError(CodeTxTooLarge, MainModule, fmt.Sprintf("transaction of %d bytes exceeds the %d byte limit", size, max))
}

func ErrInvalidPublicKey(err error) ErrorI {
	return NewError(CodeInvalidPublicKey, MainModule, fmt.Sprintf("invalid public key: %s", err.Error()))
}

func ErrDuplicateValidator(nodeId []byte) ErrorI {
	return NewError(CodeDuplicateValidator, MainModule, fmt.Sprintf("duplicate validator %x", nodeId))
}

func ErrZeroStake(nodeId []byte) ErrorI {
	return NewError(CodeZeroStake, MainModule, fmt.Sprintf("validator %x has zero stake", nodeId))
}

func ErrStakeOverflow(nodeId []byte) ErrorI {
	return NewError(CodeStakeOverflow, MainModule, fmt.Sprintf("total stake overflows at validator %x", nodeId))
}

// consensus taxonomy, shared by lib types and the bft package

func ErrInvalidSignature() ErrorI {
	return NewError(CodeInvalidSignature, ConsensusModule, "invalid signature")
}

func ErrStaleRound(got, current uint32) ErrorI {
	return NewError(CodeStaleRound, ConsensusModule, fmt.Sprintf("stale round %d, current is %d", got, current))
}

func ErrStaleHeight(got, current uint64) ErrorI {
	return NewError(CodeStaleHeight, ConsensusModule, fmt.Sprintf("stale height %d, current is %d", got, current))
}

func ErrUninitializedAnchor() ErrorI {
	return NewError(CodeUninitializedAnchor, ConsensusModule, "time anchor is not initialized")
}

func ErrValidatorSetTooSmall(size, min int) ErrorI {
	return NewError(CodeValidatorSetTooSmall, ConsensusModule, fmt.Sprintf("validator set of %d is below the minimum of %d", size, min))
}

func ErrInvalidTimeAnchorTick(reason string) ErrorI {
	return NewError(CodeInvalidTimeAnchorTick, ConsensusModule, "invalid time anchor tick: "+reason)
}

func ErrUnknownValidator(nodeId []byte) ErrorI {
	return NewError(CodeUnknownValidator, ConsensusModule, fmt.Sprintf("validator %x is not in the set", nodeId))
}

func ErrInvalidQC(reason string) ErrorI {
	return NewError(CodeInvalidQC, ConsensusModule, "invalid quorum certificate: "+reason)
}

func ErrInvalidBitmap(err error) ErrorI {
	return NewError(CodeInvalidBitmap, ConsensusModule, fmt.Sprintf("invalid signer bitmap: %s", err.Error()))
}

func ErrAggregateSignature(err error) ErrorI {
	return NewError(CodeAggregateSignature, ConsensusModule, fmt.Sprintf("aggregateSignatures() failed with err: %s", err.Error()))
}
