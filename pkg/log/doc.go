/*
Package log holds the process wide zerolog logger used by fdfs.

Pools and clients derive their loggers when they are constructed, so call
Init before building a client. Until then the logger is disabled and the
library writes nothing.

	log.Init(log.Config{Level: log.DebugLevel, Output: os.Stderr})

	l := log.WithEndpoint("storage", "10.0.0.5:23000")
	l.Debug().Str("file_id", id).Msg("File uploaded")

Console output is the default. JSONOutput switches to one JSON object per
line:

	{"level":"warn","component":"pool","pool":"tracker","attempt":2,"error":"dial tcp 10.0.0.1:22122: connect: connection refused","message":"Connect attempt failed"}
*/
package log
