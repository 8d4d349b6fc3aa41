// Package config defines configuration structures for the zipserve
// server.
//
// Configuration can be provided via:
//   - YAML configuration file
//   - Environment variables (ZIPSERVE_ prefix)
//
// Environment variables override file values. Sizes accept human
// units (512MB, 3GB); the ttl is given in seconds.
//
// # Example
//
//	listen: ":8080"
//	media_bucket: "s3://library-media?region=us-east-1"
//	state_bucket: "file:///var/lib/zipserve"
//	limits:
//	  concurrent: 1
//	  download_size: 3GB
//	  active_size: 6GB
//	  files: 1000
//	  ttl: 7200
package config
