package storage

// Package storage persists the bot's named mappings (user registry,
// pending submissions).
//
// Drivers:
//   - file (default): one JSON document per mapping, full overwrite
//   - sqlite: single kv table, build with -tags sqlite
