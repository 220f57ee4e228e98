package types

import (
	"fmt"
	"time"

	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/transport"
)

// StorageStatus is the state a tracker reports for a storage server
type StorageStatus uint8

const (
	StorageStatusInit      StorageStatus = 0
	StorageStatusWaitSync  StorageStatus = 1
	StorageStatusSyncing   StorageStatus = 2
	StorageStatusIPChanged StorageStatus = 3
	StorageStatusDeleted   StorageStatus = 4
	StorageStatusOffline   StorageStatus = 5
	StorageStatusOnline    StorageStatus = 6
	StorageStatusActive    StorageStatus = 7
	StorageStatusRecovery  StorageStatus = 9
	StorageStatusNone      StorageStatus = 99
)

var storageStatusNames = map[StorageStatus]string{
	StorageStatusInit:      "INIT",
	StorageStatusWaitSync:  "WAIT_SYNC",
	StorageStatusSyncing:   "SYNCING",
	StorageStatusIPChanged: "IP_CHANGED",
	StorageStatusDeleted:   "DELETED",
	StorageStatusOffline:   "OFFLINE",
	StorageStatusOnline:    "ONLINE",
	StorageStatusActive:    "ACTIVE",
	StorageStatusRecovery:  "RECOVERY",
	StorageStatusNone:      "NONE",
}

func (s StorageStatus) String() string {
	if name, ok := storageStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// GroupInfo describes one storage group as reported by list-groups
type GroupInfo struct {
	Name               string
	TotalMB            Space
	FreeMB             Space
	TrunkFreeMB        Space
	Count              uint64
	StoragePort        uint64
	StorageHTTPPort    uint64
	ActiveCount        uint64
	CurrentWriteServer uint64
	StorePathCount     uint64
	SubdirCountPerPath uint64
	CurrentTrunkFileID uint64
}

var groupInfoTable = table[GroupInfo]{
	str("group_name", protocol.GroupNameMaxLen+1, func(g *GroupInfo) *string { return &g.Name }),
	space("total_mb", protocol.SpaceSizeBaseIndex, func(g *GroupInfo) *Space { return &g.TotalMB }),
	space("free_mb", protocol.SpaceSizeBaseIndex, func(g *GroupInfo) *Space { return &g.FreeMB }),
	space("trunk_free_mb", protocol.SpaceSizeBaseIndex, func(g *GroupInfo) *Space { return &g.TrunkFreeMB }),
	u64("count", func(g *GroupInfo) *uint64 { return &g.Count }),
	u64("storage_port", func(g *GroupInfo) *uint64 { return &g.StoragePort }),
	u64("storage_http_port", func(g *GroupInfo) *uint64 { return &g.StorageHTTPPort }),
	u64("active_count", func(g *GroupInfo) *uint64 { return &g.ActiveCount }),
	u64("current_write_server", func(g *GroupInfo) *uint64 { return &g.CurrentWriteServer }),
	u64("store_path_count", func(g *GroupInfo) *uint64 { return &g.StorePathCount }),
	u64("subdir_count_per_path", func(g *GroupInfo) *uint64 { return &g.SubdirCountPerPath }),
	u64("current_trunk_file_id", func(g *GroupInfo) *uint64 { return &g.CurrentTrunkFileID }),
}

var groupInfoWidth = groupInfoTable.width()

func (g *GroupInfo) Width() int                    { return groupInfoWidth }
func (g *GroupInfo) DecodeFrom(r *protocol.Reader) { groupInfoTable.decode(g, r) }
func (g *GroupInfo) EncodeTo(w *protocol.Writer)   { groupInfoTable.encode(g, w) }
func (g *GroupInfo) String() string                { return groupInfoTable.render(g, "Group information") }

// StorageInfo is the full statistics record of one storage server
type StorageInfo struct {
	Status     StorageStatus
	ID         string
	IPAddr     string
	DomainName string
	SrcIP      string
	Version    string
	JoinTime   time.Time
	UpTime     time.Time
	TotalMB    Space
	FreeMB     Space

	UploadPriority     uint64
	StorePathCount     uint64
	SubdirCountPerPath uint64
	CurrentWritePath   uint64
	StoragePort        uint64
	StorageHTTPPort    uint64

	AllocCount   uint32
	CurrentCount uint32
	MaxCount     uint32

	TotalUploadCount       uint64
	SuccessUploadCount     uint64
	TotalAppendCount       uint64
	SuccessAppendCount     uint64
	TotalModifyCount       uint64
	SuccessModifyCount     uint64
	TotalTruncateCount     uint64
	SuccessTruncateCount   uint64
	TotalSetMetaCount      uint64
	SuccessSetMetaCount    uint64
	TotalDeleteCount       uint64
	SuccessDeleteCount     uint64
	TotalDownloadCount     uint64
	SuccessDownloadCount   uint64
	TotalGetMetaCount      uint64
	SuccessGetMetaCount    uint64
	TotalCreateLinkCount   uint64
	SuccessCreateLinkCount uint64
	TotalDeleteLinkCount   uint64
	SuccessDeleteLinkCount uint64

	TotalUploadBytes     Space
	SuccessUploadBytes   Space
	TotalAppendBytes     Space
	SuccessAppendBytes   Space
	TotalModifyBytes     Space
	SuccessModifyBytes   Space
	TotalDownloadBytes   Space
	SuccessDownloadBytes Space
	TotalSyncInBytes     Space
	SuccessSyncInBytes   Space
	TotalSyncOutBytes    Space
	SuccessSyncOutBytes  Space

	TotalFileOpenCount    uint64
	SuccessFileOpenCount  uint64
	TotalFileReadCount    uint64
	SuccessFileReadCount  uint64
	TotalFileWriteCount   uint64
	SuccessFileWriteCount uint64

	LastSourceUpdate    time.Time
	LastSyncUpdate      time.Time
	LastSyncedTimestamp time.Time
	LastHeartBeatTime   time.Time

	IfTrunkServer bool
}

type si = StorageInfo

var storageInfoTable = table[StorageInfo]{
	status("status", func(s *si) *StorageStatus { return &s.Status }),
	str("id", protocol.StorageIDMaxSize, func(s *si) *string { return &s.ID }),
	str("ip_addr", protocol.IPAddressSize, func(s *si) *string { return &s.IPAddr }),
	str("domain_name", protocol.DomainNameMaxSize, func(s *si) *string { return &s.DomainName }),
	str("src_ip", protocol.StorageIDMaxSize, func(s *si) *string { return &s.SrcIP }),
	str("version", protocol.VersionSize, func(s *si) *string { return &s.Version }),
	stamp("join_time", func(s *si) *time.Time { return &s.JoinTime }),
	stamp("up_time", func(s *si) *time.Time { return &s.UpTime }),
	space("total_mb", protocol.SpaceSizeBaseIndex, func(s *si) *Space { return &s.TotalMB }),
	space("free_mb", protocol.SpaceSizeBaseIndex, func(s *si) *Space { return &s.FreeMB }),
	u64("upload_priority", func(s *si) *uint64 { return &s.UploadPriority }),
	u64("store_path_count", func(s *si) *uint64 { return &s.StorePathCount }),
	u64("subdir_count_per_path", func(s *si) *uint64 { return &s.SubdirCountPerPath }),
	u64("current_write_path", func(s *si) *uint64 { return &s.CurrentWritePath }),
	u64("storage_port", func(s *si) *uint64 { return &s.StoragePort }),
	u64("storage_http_port", func(s *si) *uint64 { return &s.StorageHTTPPort }),
	u32("alloc_count", func(s *si) *uint32 { return &s.AllocCount }),
	u32("current_count", func(s *si) *uint32 { return &s.CurrentCount }),
	u32("max_count", func(s *si) *uint32 { return &s.MaxCount }),
	u64("total_upload_count", func(s *si) *uint64 { return &s.TotalUploadCount }),
	u64("success_upload_count", func(s *si) *uint64 { return &s.SuccessUploadCount }),
	u64("total_append_count", func(s *si) *uint64 { return &s.TotalAppendCount }),
	u64("success_append_count", func(s *si) *uint64 { return &s.SuccessAppendCount }),
	u64("total_modify_count", func(s *si) *uint64 { return &s.TotalModifyCount }),
	u64("success_modify_count", func(s *si) *uint64 { return &s.SuccessModifyCount }),
	u64("total_truncate_count", func(s *si) *uint64 { return &s.TotalTruncateCount }),
	u64("success_truncate_count", func(s *si) *uint64 { return &s.SuccessTruncateCount }),
	u64("total_set_meta_count", func(s *si) *uint64 { return &s.TotalSetMetaCount }),
	u64("success_set_meta_count", func(s *si) *uint64 { return &s.SuccessSetMetaCount }),
	u64("total_delete_count", func(s *si) *uint64 { return &s.TotalDeleteCount }),
	u64("success_delete_count", func(s *si) *uint64 { return &s.SuccessDeleteCount }),
	u64("total_download_count", func(s *si) *uint64 { return &s.TotalDownloadCount }),
	u64("success_download_count", func(s *si) *uint64 { return &s.SuccessDownloadCount }),
	u64("total_get_meta_count", func(s *si) *uint64 { return &s.TotalGetMetaCount }),
	u64("success_get_meta_count", func(s *si) *uint64 { return &s.SuccessGetMetaCount }),
	u64("total_create_link_count", func(s *si) *uint64 { return &s.TotalCreateLinkCount }),
	u64("success_create_link_count", func(s *si) *uint64 { return &s.SuccessCreateLinkCount }),
	u64("total_delete_link_count", func(s *si) *uint64 { return &s.TotalDeleteLinkCount }),
	u64("success_delete_link_count", func(s *si) *uint64 { return &s.SuccessDeleteLinkCount }),
	space("total_upload_bytes", 0, func(s *si) *Space { return &s.TotalUploadBytes }),
	space("success_upload_bytes", 0, func(s *si) *Space { return &s.SuccessUploadBytes }),
	space("total_append_bytes", 0, func(s *si) *Space { return &s.TotalAppendBytes }),
	space("success_append_bytes", 0, func(s *si) *Space { return &s.SuccessAppendBytes }),
	space("total_modify_bytes", 0, func(s *si) *Space { return &s.TotalModifyBytes }),
	space("success_modify_bytes", 0, func(s *si) *Space { return &s.SuccessModifyBytes }),
	space("total_download_bytes", 0, func(s *si) *Space { return &s.TotalDownloadBytes }),
	space("success_download_bytes", 0, func(s *si) *Space { return &s.SuccessDownloadBytes }),
	space("total_sync_in_bytes", 0, func(s *si) *Space { return &s.TotalSyncInBytes }),
	space("success_sync_in_bytes", 0, func(s *si) *Space { return &s.SuccessSyncInBytes }),
	space("total_sync_out_bytes", 0, func(s *si) *Space { return &s.TotalSyncOutBytes }),
	space("success_sync_out_bytes", 0, func(s *si) *Space { return &s.SuccessSyncOutBytes }),
	u64("total_file_open_count", func(s *si) *uint64 { return &s.TotalFileOpenCount }),
	u64("success_file_open_count", func(s *si) *uint64 { return &s.SuccessFileOpenCount }),
	u64("total_file_read_count", func(s *si) *uint64 { return &s.TotalFileReadCount }),
	u64("success_file_read_count", func(s *si) *uint64 { return &s.SuccessFileReadCount }),
	u64("total_file_write_count", func(s *si) *uint64 { return &s.TotalFileWriteCount }),
	u64("success_file_write_count", func(s *si) *uint64 { return &s.SuccessFileWriteCount }),
	stamp("last_source_update", func(s *si) *time.Time { return &s.LastSourceUpdate }),
	stamp("last_sync_update", func(s *si) *time.Time { return &s.LastSyncUpdate }),
	stamp("last_synced_timestamp", func(s *si) *time.Time { return &s.LastSyncedTimestamp }),
	stamp("last_heart_beat_time", func(s *si) *time.Time { return &s.LastHeartBeatTime }),
	flag("if_trunk_server", func(s *si) *bool { return &s.IfTrunkServer }),
}

var storageInfoWidth = storageInfoTable.width()

func (s *StorageInfo) Width() int                    { return storageInfoWidth }
func (s *StorageInfo) DecodeFrom(r *protocol.Reader) { storageInfoTable.decode(s, r) }
func (s *StorageInfo) EncodeTo(w *protocol.Writer)   { storageInfoTable.encode(s, w) }
func (s *StorageInfo) String() string                { return storageInfoTable.render(s, "Storage information") }

// BasicStorageInfo is the store target returned by query-store-one: where to
// upload and which store path to use
type BasicStorageInfo struct {
	GroupName      string
	IPAddr         string
	Port           uint64
	StorePathIndex uint8
}

func (b *BasicStorageInfo) Width() int { return protocol.QueryStoreBodyLen }

func (b *BasicStorageInfo) DecodeFrom(r *protocol.Reader) {
	b.GroupName = r.FixedString(protocol.GroupNameMaxLen)
	b.IPAddr = r.FixedString(protocol.IPAddressSize - 1)
	b.Port = r.Uint64()
	b.StorePathIndex = r.Uint8()
}

func (b *BasicStorageInfo) EncodeTo(w *protocol.Writer) {
	w.FixedString(b.GroupName, protocol.GroupNameMaxLen).
		FixedString(b.IPAddr, protocol.IPAddressSize-1).
		Uint64(b.Port).
		Uint8(b.StorePathIndex)
}

// Endpoint returns the storage server address
func (b *BasicStorageInfo) Endpoint() transport.Endpoint {
	return transport.Endpoint{Host: b.IPAddr, Port: int(b.Port)}
}

// StoreTargets is the answer to query-store-all: every storage server of one
// group that accepts uploads, sharing one store path index
type StoreTargets struct {
	GroupName      string
	Servers        []transport.Endpoint
	StorePathIndex uint8
}

// Targets expands the answer into one BasicStorageInfo per server
func (s *StoreTargets) Targets() []BasicStorageInfo {
	out := make([]BasicStorageInfo, len(s.Servers))
	for i, ep := range s.Servers {
		out[i] = BasicStorageInfo{
			GroupName:      s.GroupName,
			IPAddr:         ep.Host,
			Port:           uint64(ep.Port),
			StorePathIndex: s.StorePathIndex,
		}
	}
	return out
}

// storeServerWidth is one ip plus one port
const storeServerWidth = protocol.IPAddressSize - 1 + protocol.PkgLenSize

// DecodeStoreTargets parses a query-store-all body: group name, n ips, n
// ports, one store path byte. n is derived from the body length.
func DecodeStoreTargets(body []byte) (*StoreTargets, error) {
	rest := len(body) - protocol.GroupNameMaxLen - 1
	if rest < storeServerWidth || rest%storeServerWidth != 0 {
		return nil, fmt.Errorf("%w: query store body of %d bytes", protocol.ErrMalformedResponse, len(body))
	}
	n := rest / storeServerWidth

	r := protocol.NewReader(body)
	st := &StoreTargets{GroupName: r.FixedString(protocol.GroupNameMaxLen)}
	ips := make([]string, n)
	for i := range ips {
		ips[i] = r.FixedString(protocol.IPAddressSize - 1)
	}
	st.Servers = make([]transport.Endpoint, n)
	for i := range st.Servers {
		st.Servers[i] = transport.Endpoint{Host: ips[i], Port: int(r.Uint64())}
	}
	st.StorePathIndex = r.Uint8()
	if err := r.Done(); err != nil {
		return nil, err
	}
	return st, nil
}

// EncodeStoreTargets is the inverse of DecodeStoreTargets
func EncodeStoreTargets(st *StoreTargets) []byte {
	w := protocol.NewBodyWriter().FixedString(st.GroupName, protocol.GroupNameMaxLen)
	for _, ep := range st.Servers {
		w.FixedString(ep.Host, protocol.IPAddressSize-1)
	}
	for _, ep := range st.Servers {
		w.Uint64(uint64(ep.Port))
	}
	return w.Uint8(st.StorePathIndex).Frame()
}

// FetchTarget is a storage server holding a given file
type FetchTarget struct {
	GroupName string
	IPAddr    string
	Port      uint64
}

func (f *FetchTarget) Width() int { return protocol.QueryFetchBodyLen }

func (f *FetchTarget) DecodeFrom(r *protocol.Reader) {
	f.GroupName = r.FixedString(protocol.GroupNameMaxLen)
	f.IPAddr = r.FixedString(protocol.IPAddressSize - 1)
	f.Port = r.Uint64()
}

func (f *FetchTarget) EncodeTo(w *protocol.Writer) {
	w.FixedString(f.GroupName, protocol.GroupNameMaxLen).
		FixedString(f.IPAddr, protocol.IPAddressSize-1).
		Uint64(f.Port)
}

func (f *FetchTarget) Endpoint() transport.Endpoint {
	return transport.Endpoint{Host: f.IPAddr, Port: int(f.Port)}
}

// DecodeFetchTargets parses a query-fetch-all body: one full target followed
// by extra ip addresses that share its group and port
func DecodeFetchTargets(body []byte) ([]FetchTarget, error) {
	extra := len(body) - protocol.QueryFetchBodyLen
	ipWidth := protocol.IPAddressSize - 1
	if extra < 0 || extra%ipWidth != 0 {
		return nil, fmt.Errorf("%w: query fetch body of %d bytes", protocol.ErrMalformedResponse, len(body))
	}

	r := protocol.NewReader(body)
	var first FetchTarget
	first.DecodeFrom(r)
	out := []FetchTarget{first}
	for i := 0; i < extra/ipWidth; i++ {
		out = append(out, FetchTarget{
			GroupName: first.GroupName,
			IPAddr:    r.FixedString(ipWidth),
			Port:      first.Port,
		})
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadResult identifies a stored file
type UploadResult struct {
	GroupName string
	Filename  string
}

// DecodeUploadResult splits a fixed width group name from the remote
// filename that fills the rest of the body
func DecodeUploadResult(body []byte) (*UploadResult, error) {
	if len(body) <= protocol.GroupNameMaxLen {
		return nil, fmt.Errorf("%w: upload response of %d bytes", protocol.ErrMalformedResponse, len(body))
	}
	r := protocol.NewReader(body)
	return &UploadResult{
		GroupName: r.FixedString(protocol.GroupNameMaxLen),
		Filename:  string(r.Rest()),
	}, nil
}

// FileID renders "group/filename"
func (u *UploadResult) FileID() string {
	return u.GroupName + "/" + u.Filename
}

func (u *UploadResult) String() string {
	return u.FileID()
}

// FileInfo is the answer to query-file-info
type FileInfo struct {
	Size       uint64
	CreateTime time.Time
	CRC32      uint32
	SourceIP   string
}

// FileInfoFormat is the fixed layout of a query-file-info body
var FileInfoFormat = protocol.Format{
	protocol.Uint64Field(),
	protocol.Uint64Field(),
	protocol.Uint64Field(),
	protocol.StringField(protocol.IPAddressSize),
}

// FileInfoFromValues converts values unpacked with FileInfoFormat
func FileInfoFromValues(values []any) (*FileInfo, error) {
	if len(values) != len(FileInfoFormat) {
		return nil, fmt.Errorf("%w: file info has %d fields", protocol.ErrMalformedResponse, len(values))
	}
	size, ok1 := values[0].(uint64)
	created, ok2 := values[1].(uint64)
	crc, ok3 := values[2].(uint64)
	ip, ok4 := values[3].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: unexpected file info field types", protocol.ErrMalformedResponse)
	}
	return &FileInfo{
		Size:       size,
		CreateTime: time.Unix(int64(created), 0),
		CRC32:      uint32(crc),
		SourceIP:   ip,
	}, nil
}

// EncodeFileInfo is the inverse of FileInfoFromValues over the wire layout
func EncodeFileInfo(fi *FileInfo) []byte {
	return protocol.NewBodyWriter().
		Uint64(fi.Size).
		Int64(fi.CreateTime.Unix()).
		Uint64(uint64(fi.CRC32)).
		FixedString(fi.SourceIP, protocol.IPAddressSize).
		Frame()
}
