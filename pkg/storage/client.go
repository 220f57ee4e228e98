package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/cuemby/fdfs/pkg/command"
	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/pool"
	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/rs/zerolog"
)

// Client talks to a single storage node through its own connection pool
type Client struct {
	pool     *pool.Pool
	endpoint transport.Endpoint
	logger   zerolog.Logger
}

// New creates a storage client for the first endpoint of cfg
func New(cfg pool.Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("storage client: no endpoint")
	}
	ep := cfg.Endpoints[0]
	cfg.Endpoints = cfg.Endpoints[:1]
	if cfg.Name == "" {
		cfg.Name = "storage/" + ep.String()
	}
	p, err := pool.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage pool: %w", err)
	}
	return &Client{
		pool:     p,
		endpoint: ep,
		logger:   log.WithEndpoint("storage", ep.String()),
	}, nil
}

func (c *Client) Endpoint() transport.Endpoint {
	return c.endpoint
}

// Close releases every pooled connection
func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}

// UploadByFilename streams the file at path to the node. The extension is
// derived from the name.
func (c *Client) UploadByFilename(ctx context.Context, path string, storePathIndex uint8, md types.Metadata) (*types.UploadResult, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Upload(ctx, f, storePathIndex, md)
}

// UploadByBuffer uploads data under the given extension
func (c *Client) UploadByBuffer(ctx context.Context, data []byte, storePathIndex uint8, md types.Metadata, ext string) (*types.UploadResult, error) {
	ext, err := types.NormalizeExt(ext)
	if err != nil {
		return nil, err
	}
	return c.Upload(ctx, BufferSource(data, ext), storePathIndex, md)
}

// Upload sends src as a new file. The request body is the store path index,
// metadata length, file size, extension, metadata and finally the file bytes.
func (c *Client) Upload(ctx context.Context, src Source, storePathIndex uint8, md types.Metadata) (*types.UploadResult, error) {
	ext, err := types.NormalizeExt(src.Ext())
	if err != nil {
		return nil, err
	}
	meta, err := types.PackMeta(md)
	if err != nil {
		return nil, err
	}
	size := src.Size()
	if size < 0 {
		return nil, fmt.Errorf("upload: negative file size %d", size)
	}

	head := 1 + 2*protocol.PkgLenSize + protocol.FileExtNameMaxLen + len(meta)
	cmd := command.New(c.pool, protocol.CmdUploadFile, uint64(head)+uint64(size))
	cmd.Body().
		Uint8(storePathIndex).
		Uint64(uint64(len(meta))).
		Uint64(uint64(size)).
		FixedString(ext, protocol.FileExtNameMaxLen).
		Bytes(meta)
	cmd.Stream(src, size)

	body, err := cmd.Execute(ctx)
	if err != nil {
		return nil, err
	}
	res, err := types.DecodeUploadResult(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("file_id", res.FileID()).
		Int64("size", size).
		Msg("File uploaded")
	return res, nil
}

func (c *Client) fileCommand(cmd protocol.Command, group, filename string, extra int) (*command.Command, error) {
	if err := types.ValidateGroupName(group); err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, fmt.Errorf("%s: empty filename", cmd)
	}
	fc := command.New(c.pool, cmd, uint64(extra+protocol.GroupNameMaxLen+len(filename)))
	return fc, nil
}

// DeleteFile removes a file. Success has no response body.
func (c *Client) DeleteFile(ctx context.Context, group, filename string) error {
	cmd, err := c.fileCommand(protocol.CmdDeleteFile, group, filename, 0)
	if err != nil {
		return err
	}
	cmd.Body().FixedString(group, protocol.GroupNameMaxLen).String(filename)

	if _, err := cmd.Execute(ctx); err != nil {
		return err
	}
	c.logger.Debug().Str("group", group).Str("filename", filename).Msg("File deleted")
	return nil
}

// SetMeta replaces (MetaOverwrite) or merges into (MetaMerge) the metadata of a file
func (c *Client) SetMeta(ctx context.Context, group, filename string, md types.Metadata, mode protocol.SetMetaMode) error {
	if !mode.Valid() {
		return fmt.Errorf("set metadata: unknown mode %q", byte(mode))
	}
	meta, err := types.PackMeta(md)
	if err != nil {
		return err
	}
	cmd, err := c.fileCommand(protocol.CmdSetMetadata, group, filename, 2*protocol.PkgLenSize+1+len(meta))
	if err != nil {
		return err
	}
	cmd.Body().
		Uint64(uint64(len(filename))).
		Uint64(uint64(len(meta))).
		Uint8(uint8(mode)).
		FixedString(group, protocol.GroupNameMaxLen).
		String(filename).
		Bytes(meta)

	_, err = cmd.Execute(ctx)
	return err
}

// GetMeta returns the metadata of a file. A file without metadata yields an
// empty, non-nil list.
func (c *Client) GetMeta(ctx context.Context, group, filename string) (types.Metadata, error) {
	cmd, err := c.fileCommand(protocol.CmdGetMetadata, group, filename, 0)
	if err != nil {
		return nil, err
	}
	cmd.Body().FixedString(group, protocol.GroupNameMaxLen).String(filename)

	body, err := cmd.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return types.UnpackMeta(body)
}

// DownloadTo copies length bytes of the file starting at offset into w.
// A zero length reads to the end of the file.
func (c *Client) DownloadTo(ctx context.Context, w io.Writer, group, filename string, offset, length int64) (int64, error) {
	if offset < 0 || length < 0 {
		return 0, fmt.Errorf("download: negative range %d+%d", offset, length)
	}
	cmd, err := c.fileCommand(protocol.CmdDownloadFile, group, filename, 2*protocol.PkgLenSize)
	if err != nil {
		return 0, err
	}
	cmd.Body().
		Int64(offset).
		Int64(length).
		FixedString(group, protocol.GroupNameMaxLen).
		String(filename)

	return cmd.ExecuteTo(ctx, w)
}

// DownloadToBuffer returns the requested range of the file in memory
func (c *Client) DownloadToBuffer(ctx context.Context, group, filename string, offset, length int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.DownloadTo(ctx, &buf, group, filename, offset, length); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// QueryFileInfo returns size, creation time, checksum and source of a file
func (c *Client) QueryFileInfo(ctx context.Context, group, filename string) (*types.FileInfo, error) {
	cmd, err := c.fileCommand(protocol.CmdQueryFileInfo, group, filename, 0)
	if err != nil {
		return nil, err
	}
	cmd.Body().FixedString(group, protocol.GroupNameMaxLen).String(filename)

	values, err := command.FetchByFormat(ctx, cmd, types.FileInfoFormat)
	if err != nil {
		return nil, err
	}
	return types.FileInfoFromValues(values)
}

// ActiveTest checks that the node answers on the protocol level
func (c *Client) ActiveTest(ctx context.Context) error {
	_, err := command.New(c.pool, protocol.CmdActiveTest, 0).Execute(ctx)
	return err
}
