package storage

import (
	_ "embed"
)

const (
	formatName    = "vibrometry-store"
	formatVersion = "1"

	nodeKindGroup   = 0
	nodeKindDataset = 1

	insertFormatSQL = `
INSERT INTO container (key, value)
VALUES ('format', ?),
       ('version', ?)`

	selectFormatSQL = `
SELECT value
FROM container
WHERE key = 'format'`

	selectNodeKindSQL = `
SELECT kind
FROM nodes
WHERE path = ?`

	insertGroupSQL = `
INSERT INTO nodes (path,
                   parent,
                   name,
                   kind)
VALUES (?, ?, ?, 0)`

	ensureGroupSQL = `
INSERT INTO nodes (path,
                   parent,
                   name,
                   kind)
VALUES (?, ?, ?, 0)
ON CONFLICT (path) DO NOTHING`

	insertDatasetSQL = `
INSERT INTO nodes (path,
                   parent,
                   name,
                   kind,
                   dtype,
                   rank,
                   length,
                   data)
VALUES (?, ?, ?, 1, ?, ?, ?, ?)`

	selectDatasetSQL = `
SELECT kind,
       dtype,
       rank,
       length,
       data
FROM nodes
WHERE path = ?`

	selectChildrenSQL = `
SELECT name,
       path,
       kind
FROM nodes
WHERE parent = ?
ORDER BY name`
)

//go:embed schema.sql
var initSchemaSQL string
