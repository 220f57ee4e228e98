// Package fdfstest runs an in-process cluster that speaks the tracker and
// storage protocol on one loopback port, for tests.
package fdfstest

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"sort"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/google/uuid"
)

// DefaultGroup is the group every Server stores into
const DefaultGroup = "group1"

// File is one stored file
type File struct {
	Data    []byte
	Meta    types.Metadata
	Created time.Time
}

type fault struct {
	status uint8
	drop   bool
}

// Server is a single node acting as tracker and as the only storage server
// of its group. Tracker answers point back at the server itself.
type Server struct {
	ln    net.Listener
	ep    transport.Endpoint
	group string

	mu             sync.Mutex
	storePathIndex uint8
	totalMB        uint64
	freeMB         uint64
	files          map[string]*File
	faults         map[protocol.Command][]fault
	counts         map[protocol.Command]int
	conns          map[net.Conn]struct{}
	closed         bool
	wg             sync.WaitGroup
}

// Start listens on a random loopback port. The server is closed when the test ends.
func Start(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fdfstest: listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{
		ln:      ln,
		ep:      transport.Endpoint{Host: addr.IP.String(), Port: addr.Port},
		group:   DefaultGroup,
		totalMB: 1 << 20,
		freeMB:  1 << 19,
		files:   make(map[string]*File),
		faults:  make(map[protocol.Command][]fault),
		counts:  make(map[protocol.Command]int),
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Endpoint() transport.Endpoint { return s.ep }
func (s *Server) Addr() string                 { return s.ep.String() }
func (s *Server) Group() string                { return s.group }

// SetStorePathIndex changes the store path handed out by query-store
func (s *Server) SetStorePathIndex(i uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storePathIndex = i
}

// SetSpace changes the capacity reported for the group, in MB
func (s *Server) SetSpace(total, free uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalMB, s.freeMB = total, free
}

// Space returns the reported capacity in MB
func (s *Server) Space() (total, free uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalMB, s.freeMB
}

func (s *Server) pathIndex() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storePathIndex
}

// FailNext answers the next request for cmd with status and an empty body
func (s *Server) FailNext(cmd protocol.Command, status uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[cmd] = append(s.faults[cmd], fault{status: status})
}

// DropNext closes the connection instead of answering the next request for cmd
func (s *Server) DropNext(cmd protocol.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[cmd] = append(s.faults[cmd], fault{drop: true})
}

// Requests returns how many requests for cmd were received
func (s *Server) Requests(cmd protocol.Command) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[cmd]
}

// Connections returns the number of open client connections
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// File returns a copy of a stored file
func (s *Server) File(group, filename string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[group+"/"+filename]
	if !ok {
		return File{}, false
	}
	return File{Data: bytes.Clone(f.Data), Meta: append(types.Metadata{}, f.Meta...), Created: f.Created}, true
}

// Put stores a file directly and returns its remote filename
func (s *Server) Put(data []byte, ext string, md types.Metadata) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := s.newFilename(ext)
	s.files[s.group+"/"+name] = &File{Data: bytes.Clone(data), Meta: md, Created: time.Now()}
	return name
}

// Close stops accepting, drops every connection and waits for handlers
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.ln.Close()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			nc.Close()
			return
		}
		s.conns[nc] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handle(nc)
	}
}

func (s *Server) handle(nc net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, nc)
		s.mu.Unlock()
		nc.Close()
	}()

	raw := make([]byte, protocol.HeaderSize)
	for {
		if _, err := io.ReadFull(nc, raw); err != nil {
			return
		}
		hdr, _ := protocol.DecodeHeader(raw)
		body := make([]byte, hdr.Length)
		if _, err := io.ReadFull(nc, body); err != nil {
			return
		}

		s.mu.Lock()
		s.counts[hdr.Cmd]++
		f, injected := s.takeFault(hdr.Cmd)
		s.mu.Unlock()

		var status uint8
		var resp []byte
		switch {
		case injected && f.drop:
			return
		case injected:
			status = f.status
		default:
			var err error
			resp, err = s.dispatch(hdr.Cmd, body)
			status = statusOf(err)
		}
		if err := reply(nc, status, resp); err != nil {
			return
		}
	}
}

func (s *Server) takeFault(cmd protocol.Command) (fault, bool) {
	q := s.faults[cmd]
	if len(q) == 0 {
		return fault{}, false
	}
	s.faults[cmd] = q[1:]
	return q[0], true
}

func reply(w io.Writer, status uint8, body []byte) error {
	if status != 0 {
		body = nil
	}
	hdr := protocol.EncodeHeader(uint64(len(body)), protocol.CmdResp)
	hdr[protocol.HeaderSize-1] = status
	_, err := w.Write(append(hdr, body...))
	return err
}

func statusOf(err error) uint8 {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return uint8(errno)
	}
	return uint8(syscall.EINVAL)
}

func (s *Server) dispatch(cmd protocol.Command, body []byte) ([]byte, error) {
	r := protocol.NewReader(body)
	switch cmd {
	case protocol.CmdActiveTest:
		return nil, nil
	case protocol.CmdServerListAllGroups:
		return s.groupInfo(), nil
	case protocol.CmdServerListOneGroup:
		if err := s.readGroup(r); err != nil {
			return nil, err
		}
		return s.groupInfo(), nil
	case protocol.CmdServerListStorage:
		return s.listStorage(r)
	case protocol.CmdQueryStoreWithGroupOne:
		if err := s.readGroup(r); err != nil {
			return nil, err
		}
		fallthrough
	case protocol.CmdQueryStoreWithoutGroupOne:
		return s.encode(&types.BasicStorageInfo{
			GroupName:      s.group,
			IPAddr:         s.ep.Host,
			Port:           uint64(s.ep.Port),
			StorePathIndex: s.pathIndex(),
		}), nil
	case protocol.CmdQueryStoreWithGroupAll:
		if err := s.readGroup(r); err != nil {
			return nil, err
		}
		fallthrough
	case protocol.CmdQueryStoreWithoutGroupAll:
		return types.EncodeStoreTargets(&types.StoreTargets{
			GroupName:      s.group,
			Servers:        []transport.Endpoint{s.ep},
			StorePathIndex: s.pathIndex(),
		}), nil
	case protocol.CmdQueryFetchOne, protocol.CmdQueryFetchAll, protocol.CmdQueryUpdate:
		group, filename := r.FixedString(protocol.GroupNameMaxLen), string(r.Rest())
		if _, err := s.lookup(group, filename); err != nil {
			return nil, err
		}
		return s.encode(&types.FetchTarget{GroupName: group, IPAddr: s.ep.Host, Port: uint64(s.ep.Port)}), nil
	case protocol.CmdUploadFile:
		return s.upload(r)
	case protocol.CmdDeleteFile:
		group, filename := r.FixedString(protocol.GroupNameMaxLen), string(r.Rest())
		s.mu.Lock()
		defer s.mu.Unlock()
		key := group + "/" + filename
		if _, ok := s.files[key]; !ok {
			return nil, syscall.ENOENT
		}
		delete(s.files, key)
		return nil, nil
	case protocol.CmdSetMetadata:
		return nil, s.setMeta(r)
	case protocol.CmdGetMetadata:
		f, err := s.snapshot(r.FixedString(protocol.GroupNameMaxLen), string(r.Rest()))
		if err != nil {
			return nil, err
		}
		return types.PackMeta(f.Meta)
	case protocol.CmdDownloadFile:
		return s.download(r)
	case protocol.CmdQueryFileInfo:
		f, err := s.snapshot(r.FixedString(protocol.GroupNameMaxLen), string(r.Rest()))
		if err != nil {
			return nil, err
		}
		return types.EncodeFileInfo(&types.FileInfo{
			Size:       uint64(len(f.Data)),
			CreateTime: f.Created,
			CRC32:      crc32.ChecksumIEEE(f.Data),
			SourceIP:   s.ep.Host,
		}), nil
	default:
		return nil, syscall.EINVAL
	}
}

func (s *Server) encode(rec protocol.Record) []byte {
	w := protocol.NewBodyWriter()
	rec.EncodeTo(w)
	return w.Frame()
}

func (s *Server) readGroup(r *protocol.Reader) error {
	if g := r.FixedString(protocol.GroupNameMaxLen); g != s.group {
		return syscall.ENOENT
	}
	return nil
}

func (s *Server) groupInfo() []byte {
	total, free := s.Space()
	return s.encode(&types.GroupInfo{
		Name:           s.group,
		TotalMB:        types.Space{Value: total, Unit: protocol.SpaceSizeBaseIndex},
		FreeMB:         types.Space{Value: free, Unit: protocol.SpaceSizeBaseIndex},
		Count:          1,
		StoragePort:    uint64(s.ep.Port),
		ActiveCount:    1,
		StorePathCount: 1,
	})
}

func (s *Server) listStorage(r *protocol.Reader) ([]byte, error) {
	if err := s.readGroup(r); err != nil {
		return nil, err
	}
	if r.Remaining() > 0 {
		if ip := r.FixedString(protocol.IPAddressSize); ip != s.ep.Host {
			return []byte{}, nil
		}
	}
	now := time.Now().Truncate(time.Second)
	total, free := s.Space()
	return s.encode(&types.StorageInfo{
		Status:      types.StorageStatusActive,
		ID:          "storage1",
		IPAddr:      s.ep.Host,
		Version:     "6.12",
		JoinTime:    now.Add(-time.Hour),
		UpTime:      now,
		TotalMB:     types.Space{Value: total, Unit: protocol.SpaceSizeBaseIndex},
		FreeMB:      types.Space{Value: free, Unit: protocol.SpaceSizeBaseIndex},
		StoragePort: uint64(s.ep.Port),
	}), nil
}

func (s *Server) lookup(group, filename string) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[group+"/"+filename]
	if !ok {
		return nil, syscall.ENOENT
	}
	return f, nil
}

func (s *Server) snapshot(group, filename string) (File, error) {
	f, ok := s.File(group, filename)
	if !ok {
		return File{}, syscall.ENOENT
	}
	return f, nil
}

func (s *Server) newFilename(ext string) string {
	name := fmt.Sprintf("M%02X/00/00/%s", s.storePathIndex, strings.ReplaceAll(uuid.NewString(), "-", ""))
	if ext != "" {
		name += "." + ext
	}
	return name
}

func (s *Server) upload(r *protocol.Reader) ([]byte, error) {
	r.Uint8()
	metaLen := r.Uint64()
	size := r.Uint64()
	ext := r.FixedString(protocol.FileExtNameMaxLen)
	meta := r.Bytes(int(metaLen))
	data := r.Rest()
	if r.Err() != nil || uint64(len(data)) != size {
		return nil, syscall.EINVAL
	}
	md, err := types.UnpackMeta(meta)
	if err != nil {
		return nil, syscall.EINVAL
	}

	s.mu.Lock()
	name := s.newFilename(ext)
	s.files[s.group+"/"+name] = &File{Data: bytes.Clone(data), Meta: md, Created: time.Now()}
	s.mu.Unlock()

	return protocol.NewBodyWriter().
		FixedString(s.group, protocol.GroupNameMaxLen).
		String(name).
		Frame(), nil
}

func (s *Server) setMeta(r *protocol.Reader) error {
	nameLen := r.Uint64()
	metaLen := r.Uint64()
	mode := protocol.SetMetaMode(r.Uint8())
	group := r.FixedString(protocol.GroupNameMaxLen)
	filename := string(r.Bytes(int(nameLen)))
	meta := r.Bytes(int(metaLen))
	if r.Done() != nil || !mode.Valid() {
		return syscall.EINVAL
	}
	md, err := types.UnpackMeta(meta)
	if err != nil {
		return syscall.EINVAL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[group+"/"+filename]
	if !ok {
		return syscall.ENOENT
	}
	if mode == protocol.MetaOverwrite {
		f.Meta = md
		return nil
	}
	for _, it := range md {
		f.Meta.Set(it.Name, it.Value)
	}
	return nil
}

func (s *Server) download(r *protocol.Reader) ([]byte, error) {
	offset := r.Uint64()
	count := r.Uint64()
	f, err := s.snapshot(r.FixedString(protocol.GroupNameMaxLen), string(r.Rest()))
	if err != nil {
		return nil, err
	}
	size := uint64(len(f.Data))
	if offset > size {
		return nil, syscall.EINVAL
	}
	end := size
	if count > 0 {
		end = min(size, offset+count)
	}
	return f.Data[offset:end], nil
}

// Files lists the stored file ids in order
func (s *Server) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.files))
	for id := range s.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
