package database

const schema = `
CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_name TEXT NOT NULL,
    name TEXT NOT NULL COLLATE NOCASE,
    description TEXT NOT NULL DEFAULT '',
    folder TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL,
    UNIQUE(account_name, name)
);

CREATE TABLE IF NOT EXISTS processed_emails (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_name TEXT NOT NULL,
    message_hash TEXT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    from_addr TEXT NOT NULL DEFAULT '',
    to_addr TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    message_date DATETIME NOT NULL,
    category TEXT,
    processed_at DATETIME NOT NULL,
    UNIQUE(account_name, message_hash)
);

CREATE INDEX IF NOT EXISTS idx_categories_account ON categories(account_name);
CREATE INDEX IF NOT EXISTS idx_processed_account ON processed_emails(account_name);
CREATE INDEX IF NOT EXISTS idx_processed_at ON processed_emails(processed_at);
CREATE INDEX IF NOT EXISTS idx_processed_category ON processed_emails(category);
CREATE INDEX IF NOT EXISTS idx_processed_from ON processed_emails(from_addr);
CREATE INDEX IF NOT EXISTS idx_processed_subject ON processed_emails(subject);
`
