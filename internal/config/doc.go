// Package config handles configuration loading for switchboard.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then selected fields may be overridden from SWITCHBOARD_*
// variables. Empty fields get defaults and the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SWITCHBOARD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/switchboard/config.yaml
//  3. ~/.config/switchboard/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	whatsapp:
//	  access_token: "${META_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// These variables replace the file value when set and non-empty:
//
//	SWITCHBOARD_HTTP_ADDR                server.http_addr
//	SWITCHBOARD_WEBHOOK_VERIFY_TOKEN     webhook.verify_token
//	SWITCHBOARD_WHATSAPP_ACCESS_TOKEN    whatsapp.access_token
//	SWITCHBOARD_WHATSAPP_PHONE_NUMBER_ID whatsapp.phone_number_id
//	SWITCHBOARD_STORE_BACKEND            store.backend
//	SWITCHBOARD_SQLITE_PATH              store.sqlite.path
//	SWITCHBOARD_REDIS_URL                store.redis.url
//	SWITCHBOARD_API_TOKEN                api.token
//	SWITCHBOARD_LOG_LEVEL                logging.level
//	SWITCHBOARD_LOG_FORMAT               logging.format
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	webhook:
//	  verify_token: "${WEBHOOK_VERIFY_TOKEN}"
//	  dedupe_ttl: "10m"
//	  dedupe_size: 10000
//	  max_body_bytes: 1048576
//
//	whatsapp:
//	  phone_number_id: "1234567890"
//	  access_token: "${META_TOKEN}"
//	  timeout: "10s"
//	  rate_per_second: 20
//	  burst: 20
//
//	store:
//	  backend: "sqlite"    # sqlite, redis, memory
//	  sqlite:
//	    path: "/var/lib/switchboard/switchboard.db"
//	  redis:
//	    url: "${REDIS_URL}"
//
//	session:
//	  expiry: "6h"
//	  system_id: "01"
//
//	routes:
//	  1: ["PARTS"]
//	  2: ["CRM"]
//
//	api:
//	  token: "${SWITCHBOARD_API_TOKEN}"   # empty disables /api
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Validate rejects a missing http address, phone number id or access token,
// an unknown store backend or one without its connection setting, and routes
// whose option is outside 1..255, equal to 100, or without systems.
package config
