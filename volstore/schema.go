package volstore

// Namespace is the storage entry holding the volume mapping.
const Namespace = "volumes"

// Schema is the DDL for the store. One row per namespace; value is a JSON
// object and version increases by one on every write.
const Schema = `
CREATE TABLE IF NOT EXISTS storage (
    namespace  TEXT PRIMARY KEY,
    value      TEXT NOT NULL DEFAULT '{}',
    version    INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
`
