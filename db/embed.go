// Package db embeds the relational schema and the seed catalog.
package db

import _ "embed"

// Schema holds the idempotent DDL for every table the service uses.
//
//go:embed migrations/001_schema.sql
var Schema string

// Books is the JSON array of catalog entries loaded by seed-db.
//
//go:embed seed/books.json
var Books []byte
