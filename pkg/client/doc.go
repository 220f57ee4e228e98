/*
Package client is the high level entry point to a tracker/storage cluster.

A Client owns one tracker connection pool and one storage client per
storage node it has been routed to. Callers only name groups and files; the
client asks the tracker where to go and reuses storage connections across
calls:

	c, err := client.Dial([]string{"10.0.0.1:22122", "10.0.0.2:22122"}, 30*time.Second, 64)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.UploadByBuffer(ctx, data, types.Metadata{{Name: "owner", Value: "alice"}}, "txt")
	if err != nil {
		return err
	}
	md, err := c.GetMeta(ctx, res.GroupName, res.Filename)

# Routing

  - Uploads go to the node returned by query-store, with the store path
    index the tracker picked.
  - Reads (metadata, downloads, file info) go to the node returned by
    query-fetch-one.
  - Changes (delete, set metadata) go to the node returned by query-update,
    which is normally the node the file was uploaded to.

Tracker queries such as ListGroups or QueryFetchAll are promoted from the
embedded tracker client.

# Resources

Every pool fails fast with pool.ErrPoolExhausted once Config.MaxConns
connections are open; nothing queues. Storage clients live until Close
unless Config.StorageIdleTTL is set, in which case clients idle for that
long are closed in the background. Pool diagnostics such as connect
retries, dropped connections and swallowed teardown errors are published on
Events().
*/
package client
