/*
Package types defines the records exchanged with tracker and storage nodes.

Every fixed-width record implements protocol.Record so the command layer can
decode single records and size-derived lists generically:

  - GroupInfo: one storage group (105 bytes)
  - StorageInfo: full statistics of one storage server (612 bytes)
  - BasicStorageInfo: upload target from query-store-one (40 bytes)
  - FetchTarget: download or update target from query-fetch and query-update (39 bytes)

GroupInfo and StorageInfo are described by a static field table listing each
member's wire width and rendering. Capacity fields decode to Space, which
keeps the raw value and renders it with FormatSize; timestamps decode to
time.Time; strings are NUL trimmed.

Variable layouts have dedicated decoders: DecodeStoreTargets for
query-store-all (ips and ports come as two separate runs), DecodeFetchTargets
for query-fetch-all and DecodeUploadResult for upload responses.

Metadata is an ordered name/value list. PackMeta rejects items that contain
the reserved separator bytes or exceed the protocol limits with
ErrInvalidMetadata instead of producing a body the server would mis-split.
*/
package types
