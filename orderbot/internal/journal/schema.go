package journal

// Schema is the DDL for the run journal.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    orders_url   TEXT NOT NULL,
    site_url     TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'running',
    orders_total INTEGER NOT NULL DEFAULT 0,
    orders_done  INTEGER NOT NULL DEFAULT 0,
    orders_failed INTEGER NOT NULL DEFAULT 0,
    archive_path TEXT,
    error        TEXT,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER
);

CREATE TABLE IF NOT EXISTS order_events (
    event_id        TEXT PRIMARY KEY,
    run_id          TEXT NOT NULL REFERENCES runs(run_id),
    order_number    TEXT NOT NULL,
    status          TEXT NOT NULL,
    attempts        INTEGER NOT NULL DEFAULT 0,
    confirmation    TEXT,
    receipt_path    TEXT,
    screenshot_path TEXT,
    receipt_text    TEXT,
    error           TEXT,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_run
    ON order_events(run_id, created_at);
`
