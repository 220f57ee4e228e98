package protocol

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformedHeader is returned when a response header is shorter than HeaderSize
	ErrMalformedHeader = errors.New("malformed header")

	// ErrMalformedResponse is returned when a response body does not match the
	// layout the command expects
	ErrMalformedResponse = errors.New("malformed response")
)

// Field widths shared by tracker and storage nodes
const (
	HeaderSize = 10
	PkgLenSize = 8

	GroupNameMaxLen   = 16
	IPAddressSize     = 16
	StorageIDMaxSize  = 16
	DomainNameMaxSize = 128
	VersionSize       = 6
	FileExtNameMaxLen = 6

	MaxMetaNameLen  = 64
	MaxMetaValueLen = 256

	// SpaceSizeBaseIndex is the unit index (MB) capacity fields are reported in
	SpaceSizeBaseIndex = 2

	// QueryStoreBodyLen is group + ip + port + store path index
	QueryStoreBodyLen = GroupNameMaxLen + IPAddressSize - 1 + PkgLenSize + 1

	// QueryFetchBodyLen is group + ip + port
	QueryFetchBodyLen = GroupNameMaxLen + IPAddressSize - 1 + PkgLenSize

	// MaxBufferedBody caps response bodies read into memory. Downloads
	// stream and are bounded only by MaxBodyLen.
	MaxBufferedBody = 64 << 20

	// MaxBodyLen is the largest body length a header may carry
	MaxBodyLen = math.MaxInt64
)

// Metadata separators
const (
	RecordSeparator byte = 0x01
	FieldSeparator  byte = 0x02
)

// Command is a one byte request code
type Command uint8

const (
	CmdUploadFile    Command = 11
	CmdDeleteFile    Command = 12
	CmdSetMetadata   Command = 13
	CmdDownloadFile  Command = 14
	CmdGetMetadata   Command = 15
	CmdQueryFileInfo Command = 22

	CmdServerListOneGroup        Command = 90
	CmdServerListAllGroups       Command = 91
	CmdServerListStorage         Command = 92
	CmdResp                      Command = 100
	CmdQueryStoreWithoutGroupOne Command = 101
	CmdQueryFetchOne             Command = 102
	CmdQueryUpdate               Command = 103
	CmdQueryStoreWithGroupOne    Command = 104
	CmdQueryFetchAll             Command = 105
	CmdQueryStoreWithoutGroupAll Command = 106
	CmdQueryStoreWithGroupAll    Command = 107
	CmdActiveTest                Command = 111
)

var commandNames = map[Command]string{
	CmdUploadFile:                "upload_file",
	CmdDeleteFile:                "delete_file",
	CmdSetMetadata:               "set_metadata",
	CmdDownloadFile:              "download_file",
	CmdGetMetadata:               "get_metadata",
	CmdQueryFileInfo:             "query_file_info",
	CmdServerListOneGroup:        "list_one_group",
	CmdServerListAllGroups:       "list_all_groups",
	CmdServerListStorage:         "list_storage",
	CmdResp:                      "resp",
	CmdQueryStoreWithoutGroupOne: "query_store_without_group_one",
	CmdQueryFetchOne:             "query_fetch_one",
	CmdQueryUpdate:               "query_update",
	CmdQueryStoreWithGroupOne:    "query_store_with_group_one",
	CmdQueryFetchAll:             "query_fetch_all",
	CmdQueryStoreWithoutGroupAll: "query_store_without_group_all",
	CmdQueryStoreWithGroupAll:    "query_store_with_group_all",
	CmdActiveTest:                "active_test",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cmd_%d", uint8(c))
}

// SetMetaMode selects how set-metadata treats existing items
type SetMetaMode byte

const (
	// MetaOverwrite replaces all existing metadata
	MetaOverwrite SetMetaMode = 'O'
	// MetaMerge inserts missing items and updates existing ones
	MetaMerge SetMetaMode = 'M'
)

func (m SetMetaMode) Valid() bool {
	return m == MetaOverwrite || m == MetaMerge
}
