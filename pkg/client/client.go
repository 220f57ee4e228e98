package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cuemby/fdfs/pkg/events"
	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/pool"
	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/storage"
	"github.com/cuemby/fdfs/pkg/tracker"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

var (
	// ErrUploadTooLarge is returned before contacting the cluster when a
	// file exceeds Config.MaxUploadSize
	ErrUploadTooLarge = errors.New("upload exceeds size limit")

	// ErrClosed is returned by storage lookups after Close
	ErrClosed = errors.New("client closed")
)

// DefaultTimeout bounds connects and every socket read or write
const DefaultTimeout = 30 * time.Second

// Config holds client configuration
type Config struct {
	// Trackers are equivalent tracker hosts
	Trackers []transport.Endpoint

	// Timeout applies to trackers and storage nodes alike. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxConns caps the connections of each pool. Zero means no practical limit.
	MaxConns int

	ConnectAttempts int
	RetryInterval   time.Duration

	// StorageIdleTTL closes storage clients that were not used for this long.
	// Zero keeps them until Close.
	StorageIdleTTL time.Duration

	// MaxUploadSize rejects larger uploads. Zero disables the check.
	MaxUploadSize datasize.ByteSize

	Dialer transport.Dialer
}

// Client is the entry point to a cluster. It owns one tracker client and
// creates one storage client per storage node on first use. Tracker queries
// are available directly through the embedded tracker client.
type Client struct {
	*tracker.Client

	cfg    Config
	broker *events.Broker
	logger zerolog.Logger

	mu       sync.Mutex
	storages *cache.Cache
	closed   bool
}

// New creates a client. No connection is opened until the first call.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.StorageIdleTTL < 0 {
		return nil, fmt.Errorf("storage idle ttl must not be negative, got %s", cfg.StorageIdleTTL)
	}

	c := &Client{
		cfg:    cfg,
		broker: events.NewBroker(),
		logger: log.WithComponent("client"),
	}

	tc, err := tracker.New(c.poolConfig("tracker", cfg.Trackers))
	if err != nil {
		return nil, err
	}
	c.Client = tc

	if cfg.StorageIdleTTL > 0 {
		c.storages = cache.New(cfg.StorageIdleTTL, cfg.StorageIdleTTL)
	} else {
		c.storages = cache.New(cache.NoExpiration, 0)
	}
	c.storages.OnEvicted(c.evicted)

	return c, nil
}

// Dial is New for "host:port" tracker addresses, a timeout and a per-pool
// connection ceiling
func Dial(addrs []string, timeout time.Duration, maxConns int) (*Client, error) {
	eps, err := transport.ParseEndpoints(addrs)
	if err != nil {
		return nil, err
	}
	return New(Config{Trackers: eps, Timeout: timeout, MaxConns: maxConns})
}

func (c *Client) poolConfig(name string, eps []transport.Endpoint) pool.Config {
	return pool.Config{
		Name:            name,
		Endpoints:       eps,
		Timeout:         c.cfg.Timeout,
		MaxConns:        c.cfg.MaxConns,
		ConnectAttempts: c.cfg.ConnectAttempts,
		RetryInterval:   c.cfg.RetryInterval,
		Dialer:          c.cfg.Dialer,
		OnEvent:         c.broker.Publish,
	}
}

// Tracker returns the tracker client
func (c *Client) Tracker() *tracker.Client {
	return c.Client
}

// Events returns the broker that pool and connection diagnostics are
// published to
func (c *Client) Events() *events.Broker {
	return c.broker
}

// Storage returns the client for the storage node at ep, creating it on
// first use
func (c *Client) Storage(ep transport.Endpoint) (*storage.Client, error) {
	key := ep.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if v, ok := c.storages.Get(key); ok {
		sc := v.(*storage.Client)
		// sliding expiry
		c.storages.SetDefault(key, sc)
		return sc, nil
	}

	sc, err := storage.New(c.poolConfig("storage/"+key, []transport.Endpoint{ep}))
	if err != nil {
		return nil, err
	}
	c.storages.SetDefault(key, sc)
	c.logger.Debug().Str("endpoint", key).Msg("Storage client created")
	events.Handler(c.broker.Publish).Emit(events.EventStorageCreated, "storage client created", nil, map[string]string{
		"endpoint": key,
	})
	return sc, nil
}

// StorageCount returns the number of cached storage clients
func (c *Client) StorageCount() int {
	return c.storages.ItemCount()
}

func (c *Client) evicted(key string, v any) {
	v.(*storage.Client).Close()
	c.logger.Debug().Str("endpoint", key).Msg("Idle storage client closed")
	events.Handler(c.broker.Publish).Emit(events.EventStorageEvicted, "idle storage client closed", nil, map[string]string{
		"endpoint": key,
	})
}

// Close releases every pooled connection of the tracker and of all storage
// clients. Later calls fail with pool or client closed errors.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.storages.DeleteExpired()
	items := c.storages.Items()
	c.storages.Flush()
	c.mu.Unlock()

	for _, it := range items {
		it.Object.(*storage.Client).Close()
	}
	c.Client.Close()
	c.broker.Close()
}

func (c *Client) checkSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("upload: negative file size %d", size)
	}
	if limit := c.cfg.MaxUploadSize; limit > 0 && uint64(size) > limit.Bytes() {
		return fmt.Errorf("%w: %s over %s", ErrUploadTooLarge, datasize.ByteSize(size).HumanReadable(), limit.HumanReadable())
	}
	return nil
}

// Upload stores src on a node chosen by the tracker, within group when it is
// not empty
func (c *Client) Upload(ctx context.Context, group string, src storage.Source, md types.Metadata) (*types.UploadResult, error) {
	if err := c.checkSize(src.Size()); err != nil {
		return nil, err
	}
	if _, err := types.NormalizeExt(src.Ext()); err != nil {
		return nil, err
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}

	var target *types.BasicStorageInfo
	var err error
	if group == "" {
		target, err = c.QueryStoreWithoutGroupOne(ctx)
	} else {
		target, err = c.QueryStoreWithGroupOne(ctx, group)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query upload target: %w", err)
	}

	sc, err := c.Storage(target.Endpoint())
	if err != nil {
		return nil, err
	}
	return sc.Upload(ctx, src, target.StorePathIndex, md)
}

// UploadByFilename streams the file at path into the cluster
func (c *Client) UploadByFilename(ctx context.Context, path string, md types.Metadata) (*types.UploadResult, error) {
	f, err := storage.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Upload(ctx, "", f, md)
}

// UploadByBuffer stores data under the given extension
func (c *Client) UploadByBuffer(ctx context.Context, data []byte, md types.Metadata, ext string) (*types.UploadResult, error) {
	ext, err := types.NormalizeExt(ext)
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, "", storage.BufferSource(data, ext), md)
}

// reader resolves a node that serves the file
func (c *Client) reader(ctx context.Context, group, filename string) (*storage.Client, error) {
	t, err := c.QueryFetchOne(ctx, group, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch target: %w", err)
	}
	return c.Storage(t.Endpoint())
}

// updater resolves the node that accepts changes to the file
func (c *Client) updater(ctx context.Context, group, filename string) (*storage.Client, error) {
	t, err := c.QueryUpdate(ctx, group, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to query update target: %w", err)
	}
	return c.Storage(t.Endpoint())
}

// DeleteFile removes a file from its group
func (c *Client) DeleteFile(ctx context.Context, group, filename string) error {
	sc, err := c.updater(ctx, group, filename)
	if err != nil {
		return err
	}
	return sc.DeleteFile(ctx, group, filename)
}

// SetMeta replaces or merges the metadata of a file
func (c *Client) SetMeta(ctx context.Context, group, filename string, md types.Metadata, mode protocol.SetMetaMode) error {
	sc, err := c.updater(ctx, group, filename)
	if err != nil {
		return err
	}
	return sc.SetMeta(ctx, group, filename, md, mode)
}

func (c *Client) GetMeta(ctx context.Context, group, filename string) (types.Metadata, error) {
	sc, err := c.reader(ctx, group, filename)
	if err != nil {
		return nil, err
	}
	return sc.GetMeta(ctx, group, filename)
}

// DownloadTo copies a byte range of the file into w. A zero length reads to
// the end.
func (c *Client) DownloadTo(ctx context.Context, w io.Writer, group, filename string, offset, length int64) (int64, error) {
	sc, err := c.reader(ctx, group, filename)
	if err != nil {
		return 0, err
	}
	return sc.DownloadTo(ctx, w, group, filename, offset, length)
}

func (c *Client) DownloadToBuffer(ctx context.Context, group, filename string) ([]byte, error) {
	sc, err := c.reader(ctx, group, filename)
	if err != nil {
		return nil, err
	}
	return sc.DownloadToBuffer(ctx, group, filename, 0, 0)
}

func (c *Client) QueryFileInfo(ctx context.Context, group, filename string) (*types.FileInfo, error) {
	sc, err := c.reader(ctx, group, filename)
	if err != nil {
		return nil, err
	}
	return sc.QueryFileInfo(ctx, group, filename)
}
