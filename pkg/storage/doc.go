/*
Package storage implements the storage node side of the client: uploading,
downloading and deleting files and reading or changing their metadata.

A Client is bound to exactly one storage node and owns one connection pool
for it. Nodes are normally discovered through the tracker; the client
package keeps one storage Client per node and routes every call for you.

# Uploads

An upload request carries the store path index, the metadata length, the
file size and a six byte extension, followed by the packed metadata and the
file bytes. The file bytes are streamed from a Source, so UploadByFilename
never reads the whole file into memory:

	sc, _ := storage.New(pool.Config{Endpoints: []transport.Endpoint{ep}, Timeout: 30 * time.Second})
	defer sc.Close()

	res, err := sc.UploadByFilename(ctx, "/tmp/backup.tar.gz", 0, types.Metadata{
		{Name: "owner", Value: "alice"},
	})
	// res.FileID() == "group1/M00/00/00/wKgAAl....tar.gz"

The extension of a file name is its last dot segment, or the last two joined
("tar.gz") when they fit the six byte field. Longer extensions are rejected
with types.ErrInvalidExtension instead of being truncated.

# Metadata

SetMeta either replaces all items (protocol.MetaOverwrite) or inserts and
updates the given ones (protocol.MetaMerge). Names and values must not
contain the 0x01 and 0x02 separator bytes.

# Downloads

DownloadTo copies a byte range straight from the socket into an io.Writer.
A zero length reads to the end of the file.
*/
package storage
