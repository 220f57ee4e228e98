// Package config loads the YAML configuration shared by the fdfs commands.
//
//	trackers: ["10.0.0.1:22122", "10.0.0.2:22122"]
//	timeout: 30s
//	max_conns: 64
//	max_upload_size: 256MB
//	log: {level: info, json: false}
//	catalog: {path: /var/lib/fdfs/catalog.db}
//	metrics: {addr: ":9464", interval: 30s}
//
// Keys missing from the file keep their Default values.
package config
