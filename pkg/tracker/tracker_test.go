package tracker

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/cuemby/fdfs/pkg/command"
	"github.com/cuemby/fdfs/pkg/fdfstest"
	"github.com/cuemby/fdfs/pkg/pool"
	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/cuemby/fdfs/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *fdfstest.Server) {
	t.Helper()
	srv := fdfstest.Start(t)
	c, err := New(pool.Config{
		Endpoints: []transport.Endpoint{srv.Endpoint()},
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, srv
}

func TestListGroups(t *testing.T) {
	c, srv := newTestClient(t)

	groups, err := c.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, srv.Group(), groups[0].Name)
	total, free := srv.Space()
	assert.Equal(t, total, groups[0].TotalMB.Value)
	assert.Equal(t, free, groups[0].FreeMB.MB())
	assert.Equal(t, uint64(1), groups[0].ActiveCount)
}

func TestListOneGroup(t *testing.T) {
	c, srv := newTestClient(t)

	g, err := c.ListOneGroup(context.Background(), srv.Group())
	require.NoError(t, err)
	assert.Equal(t, srv.Group(), g.Name)

	_, err = c.ListOneGroup(context.Background(), "nope")
	var serr *command.ServerError
	require.ErrorAs(t, err, &serr)
	assert.True(t, errors.Is(err, syscall.ENOENT))

	_, err = c.ListOneGroup(context.Background(), "a-group-name-that-is-too-long")
	assert.ErrorIs(t, err, types.ErrInvalidGroupName)
}

func TestListServers(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	servers, err := c.ListServers(ctx, srv.Group(), "")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, types.StorageStatusActive, servers[0].Status)
	assert.Equal(t, srv.Endpoint().Host, servers[0].IPAddr)

	one, err := c.ListServers(ctx, srv.Group(), srv.Endpoint().Host)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	none, err := c.ListServers(ctx, srv.Group(), "10.9.9.9")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = c.ListServers(ctx, srv.Group(), "1234567890123456")
	assert.Error(t, err)
}

func TestQueryStore(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	srv.SetStorePathIndex(3)

	one, err := c.QueryStoreWithoutGroupOne(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.Group(), one.GroupName)
	assert.Equal(t, srv.Endpoint(), one.Endpoint())
	assert.Equal(t, uint8(3), one.StorePathIndex)

	one, err = c.QueryStoreWithGroupOne(ctx, srv.Group())
	require.NoError(t, err)
	assert.Equal(t, srv.Endpoint(), one.Endpoint())

	all, err := c.QueryStoreWithoutGroupAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []transport.Endpoint{srv.Endpoint()}, all.Servers)

	all, err = c.QueryStoreWithGroupAll(ctx, srv.Group())
	require.NoError(t, err)
	require.Len(t, all.Targets(), 1)
	assert.Equal(t, uint8(3), all.Targets()[0].StorePathIndex)
}

func TestQueryFetch(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()
	name := srv.Put([]byte("hello"), "txt", nil)

	one, err := c.QueryFetchOne(ctx, srv.Group(), name)
	require.NoError(t, err)
	assert.Equal(t, srv.Endpoint(), one.Endpoint())

	all, err := c.QueryFetchAll(ctx, srv.Group(), name)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, srv.Group(), all[0].GroupName)

	upd, err := c.QueryUpdate(ctx, srv.Group(), name)
	require.NoError(t, err)
	assert.Equal(t, srv.Endpoint(), upd.Endpoint())

	_, err = c.QueryFetchOne(ctx, srv.Group(), "M00/00/00/missing")
	assert.ErrorIs(t, err, syscall.ENOENT)

	_, err = c.QueryFetchOne(ctx, srv.Group(), "")
	assert.Error(t, err)
}

func TestServerErrorKeepsConnection(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	srv.FailNext(protocol.CmdServerListAllGroups, uint8(syscall.EBUSY))
	_, err := c.ListGroups(ctx)
	assert.ErrorIs(t, err, syscall.EBUSY)

	_, err = c.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Created)
}

func TestDroppedConnectionIsReplaced(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	srv.DropNext(protocol.CmdActiveTest)
	err := c.ActiveTest(ctx)
	var rerr *transport.ReadError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, 0, c.Stats().Created)

	require.NoError(t, c.ActiveTest(ctx))
	assert.Equal(t, 2, srv.Requests(protocol.CmdActiveTest))
}

func TestNewDefaultsName(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Equal(t, "tracker", c.pool.Name())
}
