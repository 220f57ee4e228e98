package tracker

import (
	"context"
	"fmt"

	"github.com/cuemby/fdfs/pkg/command"
	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/pool"
	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/rs/zerolog"
)

// Client talks to a tracker cluster through one connection pool
type Client struct {
	pool   *pool.Pool
	logger zerolog.Logger
}

// New creates a tracker client. cfg.Endpoints lists equivalent tracker hosts.
func New(cfg pool.Config) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = "tracker"
	}
	p, err := pool.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker pool: %w", err)
	}
	return &Client{
		pool:   p,
		logger: log.WithComponent("tracker"),
	}, nil
}

// Close releases every pooled connection
func (c *Client) Close() {
	c.pool.Close()
}

// Stats returns the connection pool counters
func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}

func groupBody(cmd protocol.Command, p *pool.Pool, group string, extra int) (*command.Command, error) {
	if err := types.ValidateGroupName(group); err != nil {
		return nil, err
	}
	c := command.New(p, cmd, uint64(protocol.GroupNameMaxLen+extra))
	c.Body().FixedString(group, protocol.GroupNameMaxLen)
	return c, nil
}

// ListGroups returns every storage group known to the tracker
func (c *Client) ListGroups(ctx context.Context) ([]types.GroupInfo, error) {
	return command.FetchList[types.GroupInfo](ctx, command.New(c.pool, protocol.CmdServerListAllGroups, 0))
}

// ListOneGroup returns a single group
func (c *Client) ListOneGroup(ctx context.Context, group string) (*types.GroupInfo, error) {
	cmd, err := groupBody(protocol.CmdServerListOneGroup, c.pool, group, 0)
	if err != nil {
		return nil, err
	}
	return command.FetchOne[types.GroupInfo](ctx, cmd)
}

// ListServers returns the storage servers of a group, or only the one at
// storageIP when it is not empty
func (c *Client) ListServers(ctx context.Context, group, storageIP string) ([]types.StorageInfo, error) {
	extra := 0
	if storageIP != "" {
		if len(storageIP) >= protocol.IPAddressSize {
			return nil, fmt.Errorf("storage ip %q longer than %d bytes", storageIP, protocol.IPAddressSize-1)
		}
		extra = protocol.IPAddressSize
	}
	cmd, err := groupBody(protocol.CmdServerListStorage, c.pool, group, extra)
	if err != nil {
		return nil, err
	}
	if storageIP != "" {
		cmd.Body().FixedString(storageIP, protocol.IPAddressSize)
	}
	return command.FetchList[types.StorageInfo](ctx, cmd)
}

// QueryStoreWithoutGroupOne asks the tracker where to upload a new file
func (c *Client) QueryStoreWithoutGroupOne(ctx context.Context) (*types.BasicStorageInfo, error) {
	return command.FetchOne[types.BasicStorageInfo](ctx, command.New(c.pool, protocol.CmdQueryStoreWithoutGroupOne, 0))
}

// QueryStoreWithGroupOne asks where to upload a new file within group
func (c *Client) QueryStoreWithGroupOne(ctx context.Context, group string) (*types.BasicStorageInfo, error) {
	cmd, err := groupBody(protocol.CmdQueryStoreWithGroupOne, c.pool, group, 0)
	if err != nil {
		return nil, err
	}
	return command.FetchOne[types.BasicStorageInfo](ctx, cmd)
}

// QueryStoreWithoutGroupAll returns every upload target of the group the tracker picks
func (c *Client) QueryStoreWithoutGroupAll(ctx context.Context) (*types.StoreTargets, error) {
	body, err := command.New(c.pool, protocol.CmdQueryStoreWithoutGroupAll, 0).Execute(ctx)
	if err != nil {
		return nil, err
	}
	return types.DecodeStoreTargets(body)
}

// QueryStoreWithGroupAll returns every upload target within group
func (c *Client) QueryStoreWithGroupAll(ctx context.Context, group string) (*types.StoreTargets, error) {
	cmd, err := groupBody(protocol.CmdQueryStoreWithGroupAll, c.pool, group, 0)
	if err != nil {
		return nil, err
	}
	body, err := cmd.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return types.DecodeStoreTargets(body)
}

func (c *Client) fileCommand(cmd protocol.Command, group, filename string) (*command.Command, error) {
	if filename == "" {
		return nil, fmt.Errorf("%s: empty filename", cmd)
	}
	fc, err := groupBody(cmd, c.pool, group, len(filename))
	if err != nil {
		return nil, err
	}
	fc.Body().String(filename)
	return fc, nil
}

// QueryFetchOne returns a storage server that can serve the file
func (c *Client) QueryFetchOne(ctx context.Context, group, filename string) (*types.FetchTarget, error) {
	cmd, err := c.fileCommand(protocol.CmdQueryFetchOne, group, filename)
	if err != nil {
		return nil, err
	}
	return command.FetchOne[types.FetchTarget](ctx, cmd)
}

// QueryFetchAll returns every storage server holding the file
func (c *Client) QueryFetchAll(ctx context.Context, group, filename string) ([]types.FetchTarget, error) {
	cmd, err := c.fileCommand(protocol.CmdQueryFetchAll, group, filename)
	if err != nil {
		return nil, err
	}
	body, err := cmd.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return types.DecodeFetchTargets(body)
}

// QueryUpdate returns the storage server that accepts changes to the file,
// normally its source server
func (c *Client) QueryUpdate(ctx context.Context, group, filename string) (*types.FetchTarget, error) {
	cmd, err := c.fileCommand(protocol.CmdQueryUpdate, group, filename)
	if err != nil {
		return nil, err
	}
	return command.FetchOne[types.FetchTarget](ctx, cmd)
}

// ActiveTest checks that a tracker answers on the protocol level
func (c *Client) ActiveTest(ctx context.Context) error {
	_, err := command.New(c.pool, protocol.CmdActiveTest, 0).Execute(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Active test failed")
	}
	return err
}
