/*
Package config provides configuration management for the image loader.

Configuration is layered: NewDefault supplies defaults, LoadFromFile overlays a
YAML document, and LoadFromEnv overlays IMAGELOADER_* environment variables.
Validate should be called once all layers are applied.

# Example

	global:
	  log_level: INFO
	  log_format: text
	cache:
	  directory_name: imageloader
	  memory_limit: 64MB      # empty: memory_fraction of the process budget
	  memory_fraction: 0.25
	fetch:
	  workers: 5
	  timeout: 10s
	  max_redirects: 5
	  rate_limit: 0           # requests per second, 0 disables
	  circuit_breaker:
	    enabled: false
	    failure_threshold: 5
	    timeout: 30s
	decode:
	  limit_size: false
	  size_limit: 120
	display:
	  placeholder: loading
	  clear_on_failure: true
	s3:
	  enabled: false
	  region: us-east-1
	metrics:
	  enabled: false
	  namespace: imageloader
	  path: /metrics

# Environment Variables

	IMAGELOADER_LOG_LEVEL, IMAGELOADER_LOG_FORMAT, IMAGELOADER_LOG_FILE,
	IMAGELOADER_METRICS_PORT, IMAGELOADER_CACHE_DIRECTORY,
	IMAGELOADER_MEMORY_LIMIT, IMAGELOADER_WORKERS, IMAGELOADER_TIMEOUT,
	IMAGELOADER_RATE_LIMIT, IMAGELOADER_LIMIT_SIZE, IMAGELOADER_SIZE_LIMIT,
	IMAGELOADER_PLACEHOLDER, IMAGELOADER_S3_ENABLED, IMAGELOADER_S3_REGION,
	IMAGELOADER_S3_ENDPOINT, IMAGELOADER_METRICS_ENABLED

Malformed numeric or duration values in the environment are ignored and the
previous value is kept.
*/
package config
