/*
Package catalog keeps a local record of files uploaded through the fdfs CLI.

The cluster itself offers no way to enumerate stored files, so the CLI writes
one FileRecord per successful upload into a BoltDB file and removes it again
on delete. Records are JSON encoded in a single "files" bucket keyed by file
id ("group/remote/filename"), which keeps List ordered by group.

# Usage

	store, err := catalog.Open("/var/lib/fdfs/catalog.db")
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Put(&catalog.FileRecord{
		FileID:     res.FileID(),
		Group:      res.GroupName,
		Name:       "report.pdf",
		Size:       size,
		UploadedAt: time.Now(),
	})

The catalog is advisory. Files removed by other clients stay listed until
they are deleted through the CLI.
*/
package catalog
