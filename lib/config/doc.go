// Package config loads the configuration of dFrag from TOML, YAML or JSON
// files and builds the fragment store and the codecs it describes.
//
// Example (TOML):
//
//	test_mode = false
//
//	[store]
//	backend = "pebble"
//	path = "data/fragments"
//	ttl_seconds = 86400
//
//	[current]
//	tag = 3
//	tag_bits = 8
//	identity_bits = 32
//	transaction_bits = 16
//	count_bits = 4
//	max_fragment_bytes = 300
//	epoch = "2020-01-01"
//	identity_key = "secret"
//	compression = "zstd"
//	schema_file = "schema.json"
//	date_fields = ["when", "items[].due"]
//	text_fields = ["name", "items[].note"]
//
//	[[legacy]]
//	tag = 2
//	# ...
//
// Relative paths are resolved against the directory of the configuration
// file. Validation reports all problems at once; field paths are checked
// against the schema when the codecs are built, before any message is
// processed.
package config
