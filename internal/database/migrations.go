package database

// migration is one schema step; versions are sequential from 1
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    email TEXT NOT NULL,
    app_password TEXT NOT NULL,
    name TEXT NOT NULL,
    proxy TEXT,
    created_at DATETIME NOT NULL,
    UNIQUE(user_id, email)
);

CREATE TABLE IF NOT EXISTS settings (
    user_id INTEGER PRIMARY KEY,
    ai_token TEXT NOT NULL DEFAULT '',
    send_delay INTEGER NOT NULL DEFAULT 1,
    ai_prompt TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    user_id INTEGER NOT NULL,
    total_sellers INTEGER NOT NULL,
    valid_emails INTEGER NOT NULL DEFAULT 0,
    sent_emails INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'running',
    log_file_path TEXT,
    incoming_checker_enabled BOOLEAN NOT NULL DEFAULT true,
    created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id INTEGER NOT NULL,
    email TEXT NOT NULL,
    title TEXT NOT NULL,
    price TEXT NOT NULL,
    img_url TEXT NOT NULL,
    adlink TEXT NOT NULL DEFAULT '',
    user_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS incoming_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    message_id TEXT NOT NULL UNIQUE,
    from_email TEXT NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    body_preview TEXT NOT NULL DEFAULT '',
    body_full TEXT NOT NULL DEFAULT '',
    received_at DATETIME,
    user_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id INTEGER NOT NULL,
    email TEXT NOT NULL,
    direction TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    adlink TEXT,
    created_at DATETIME NOT NULL,
    message_id TEXT,
    user_id INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id);
CREATE INDEX IF NOT EXISTS idx_logs_task ON logs(task_id);
CREATE INDEX IF NOT EXISTS idx_logs_user_email ON logs(user_id, email);
CREATE INDEX IF NOT EXISTS idx_incoming_user ON incoming_messages(user_id);
CREATE INDEX IF NOT EXISTS idx_conversation_thread ON conversation_messages(user_id, email, created_at);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE accounts ADD COLUMN incoming_enabled BOOLEAN NOT NULL DEFAULT true;

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_message_id
    ON conversation_messages(account_id, message_id) WHERE message_id IS NOT NULL;
`,
	},
}
