package store

import (
	"fmt"

	"github.com/canopy-network/metanode/lib"
)

func ErrOpenDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeOpenDB, lib.StorageModule, fmt.Sprintf("openDB() failed with err: %s", err.Error()))
}

func ErrCloseDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCloseDB, lib.StorageModule, fmt.Sprintf("closeDB() failed with err: %s", err.Error()))
}

func ErrGetDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeGetDB, lib.StorageModule, fmt.Sprintf("getDB() failed with err: %s", err.Error()))
}

func ErrSetDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeSetDB, lib.StorageModule, fmt.Sprintf("setDB() failed with err: %s", err.Error()))
}

func ErrCommitDB(err error) lib.ErrorI {
	return lib.NewError(lib.CodeCommitDB, lib.StorageModule, fmt.Sprintf("commitDB() failed with err: %s", err.Error()))
}

func ErrNotFound(what string) lib.ErrorI {
	return lib.NewError(lib.CodeNotFound, lib.StorageModule, fmt.Sprintf("%s not found", what))
}

func ErrOutOfOrder(expected, got uint64) lib.ErrorI {
	return lib.NewError(lib.CodeOutOfOrder, lib.StorageModule, fmt.Sprintf("commit out of order: expected height %d, got %d", expected, got))
}

func ErrNilStateRoot() lib.ErrorI {
	return lib.NewError(lib.CodeNilStateRoot, lib.StorageModule, "state root is nil")
}
