package storage

const schema = `
-- Directories or git repositories that vocabulary decks are read from.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL DEFAULT 'local', -- local | git
    last_scanned DATETIME
);

-- One row per parsed vocabulary entry. tags and definitions hold JSON arrays.
CREATE TABLE IF NOT EXISTS vocabularies (
    id TEXT PRIMARY KEY,
    hash TEXT NOT NULL UNIQUE,
    word TEXT NOT NULL,
    pronunciation TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    definitions TEXT NOT NULL DEFAULT '[]',
    source_id INTEGER NOT NULL,

    FOREIGN KEY(source_id) REFERENCES sources(id) ON DELETE CASCADE
);

-- SM-2 state per user and vocabulary entry. Absent row means never reviewed.
CREATE TABLE IF NOT EXISTS srs_progress (
    user_id TEXT NOT NULL,
    vocabulary_id TEXT NOT NULL,
    interval_days INTEGER NOT NULL,
    easiness REAL NOT NULL,
    repetitions INTEGER NOT NULL,
    last_review_at DATETIME,
    next_review_at DATETIME,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,

    PRIMARY KEY (user_id, vocabulary_id),
    FOREIGN KEY(vocabulary_id) REFERENCES vocabularies(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_srs_progress_due ON srs_progress(user_id, next_review_at);

CREATE TABLE IF NOT EXISTS review_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    vocabulary_id TEXT NOT NULL,
    quality INTEGER NOT NULL,
    interval_days INTEGER NOT NULL,
    easiness REAL NOT NULL,
    reviewed_at DATETIME NOT NULL,

    FOREIGN KEY(vocabulary_id) REFERENCES vocabularies(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS sessions (
    token TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    expires_at DATETIME NOT NULL
);
`
