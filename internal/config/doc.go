// Package config handles configuration loading for datagate.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, for files ending in .toml) with
// environment variable expansion. The package applies defaults, validates the
// result and resolves secrets that are given indirectly.
//
// # Configuration File
//
// The command line picks the path in this order:
//
//  1. --config / -c flag
//  2. DATAGATE_CONFIG environment variable
//  3. ./datagate.yaml
//
// # Environment Variable Expansion
//
//	sources:
//	  - id: main
//	    type: postgres
//	    connection_string: "${PG_URL}"
//
// Unset variables expand to the empty string.
//
// # Secrets
//
// Connection strings and proxy credentials accept three forms. The first
// non-empty one wins:
//
//	connection_string: "postgres://..."
//	connection_string_file: "/run/secrets/pg"
//	connection_string_env: "PG_URL"
//
// # Durations
//
//	session:
//	  idle_timeout: "30m"
//	  sweep_interval: "1m"
//
// # Sources
//
// Each source has a unique id and a type: openapi, csv, json, postgres,
// mysql or sqlite.
//
//	sources:
//	  - id: items
//	    type: openapi
//	    spec_file: ./openapi.yaml
//	    base_url: https://api.example.com
//	    allow_methods: [get]
//	    auth: { type: bearer, token_env: ITEMS_TOKEN }
//	  - id: people
//	    type: csv
//	    file: ./people.csv
//	    delimiter: ";"
//	  - id: shop
//	    type: mysql
//	    connection_string_env: SHOP_DSN
//	    allow_tables: [orders, shop.customers]
//	    max_limit: 500
package config
