package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    dry_run     BOOLEAN NOT NULL DEFAULT FALSE,
    fetched     INTEGER NOT NULL DEFAULT 0,
    included    INTEGER NOT NULL DEFAULT 0,
    replied     INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS audit_records (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    message_id     TEXT NOT NULL,
    sender         TEXT NOT NULL,
    subject        TEXT,
    item_names     TEXT NOT NULL DEFAULT '[]',
    prices         TEXT NOT NULL DEFAULT '[]',
    domain_trusted BOOLEAN NOT NULL DEFAULT FALSE,
    has_match      BOOLEAN NOT NULL DEFAULT FALSE,
    replied        BOOLEAN NOT NULL DEFAULT FALSE,
    filed          BOOLEAN NOT NULL DEFAULT FALSE,
    error          TEXT
);

CREATE TABLE IF NOT EXISTS sent_replies (
    message_id  TEXT PRIMARY KEY,
    sender      TEXT NOT NULL,
    subject     TEXT,
    sent_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_records_run ON audit_records(run_id);
`
