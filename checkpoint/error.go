package checkpoint

import (
	"fmt"

	"github.com/canopy-network/metanode/lib"
)

func ErrBrokenCheckpointLink(height uint64) lib.ErrorI {
	return lib.NewError(lib.CodeBrokenCheckpointLink, lib.CheckpointModule, fmt.Sprintf("checkpoint at height %d doesn't link to its predecessor", height))
}

func ErrCheckpointNotFound(height uint64) lib.ErrorI {
	return lib.NewError(lib.CodeCheckpointNotFound, lib.CheckpointModule, fmt.Sprintf("no checkpoint at height %d", height))
}

func ErrInvalidInterval() lib.ErrorI {
	return lib.NewError(lib.CodeInvalidInterval, lib.CheckpointModule, "checkpoint interval must be positive")
}

func ErrAnchorQueueFull() lib.ErrorI {
	return lib.NewError(lib.CodeAnchorQueueFull, lib.CheckpointModule, "anchor queue is full")
}

func ErrAnchorPublish(target string, err error) lib.ErrorI {
	return lib.NewError(lib.CodeAnchorPublish, lib.CheckpointModule, fmt.Sprintf("publishing to %s failed with err: %s", target, err.Error()))
}
