package store

import "fmt"

// Migrate applies all pending schema migrations transactionally and
// idempotently: re-running Migrate on an up-to-date database is a no-op.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

var migrations = []struct {
	version int
	sql     string
}{
	{1, migrationV1Projects},
	{2, migrationV2Tasks},
	{3, migrationV3Sessions},
	{4, migrationV4Iterations},
	{5, migrationV5Milestones},
	{6, migrationV6FileChanges},
	{7, migrationV7RetryAttempts},
	{8, migrationV8Directives},
}

const migrationV1Projects = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	working_dir TEXT NOT NULL,
	config_snapshot TEXT,
	created_at DATETIME NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0
);
`

const migrationV2Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	task_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	title TEXT NOT NULL,
	description TEXT,
	acceptance_criteria TEXT,
	priority INTEGER NOT NULL DEFAULT 5,
	epic_id TEXT,
	story_id TEXT,
	parent_task_id TEXT,
	depends_on TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	failure_reason TEXT,
	breakpoint_pending INTEGER NOT NULL DEFAULT 0,
	commit_error TEXT,
	deleted INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_project_status ON tasks(project_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_type_epic ON tasks(task_type, epic_id);
CREATE INDEX IF NOT EXISTS idx_tasks_story ON tasks(story_id);
`

const migrationV3Sessions = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	epic_id TEXT,
	state TEXT NOT NULL DEFAULT 'active',
	tokens_used INTEGER NOT NULL DEFAULT 0,
	context_window INTEGER NOT NULL DEFAULT 0,
	summary TEXT,
	predecessor_id TEXT,
	successor_id TEXT,
	started_at DATETIME NOT NULL,
	ended_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_sessions_epic ON sessions(epic_id);
`

const migrationV4Iterations = `
CREATE TABLE IF NOT EXISTS iterations (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	session_id TEXT NOT NULL REFERENCES sessions(id),
	number INTEGER NOT NULL,
	prompt_fingerprint TEXT,
	raw_response TEXT,
	truncated INTEGER NOT NULL DEFAULT 0,
	response_digest TEXT,
	usage_input INTEGER NOT NULL DEFAULT 0,
	usage_cache_create INTEGER NOT NULL DEFAULT 0,
	usage_cache_read INTEGER NOT NULL DEFAULT 0,
	usage_output INTEGER NOT NULL DEFAULT 0,
	complete INTEGER NOT NULL DEFAULT 0,
	completeness_issues TEXT,
	quality REAL NOT NULL DEFAULT 0,
	quality_comment TEXT,
	validator_errored INTEGER NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	decision TEXT,
	breakpoint INTEGER NOT NULL DEFAULT 0,
	retry_attempt INTEGER NOT NULL DEFAULT 0,
	cancelled INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	cost_units REAL NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	ended_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_iterations_task ON iterations(task_id, number);
CREATE INDEX IF NOT EXISTS idx_iterations_session_time ON iterations(session_id, started_at);
`

const migrationV5Milestones = `
CREATE TABLE IF NOT EXISTS milestones (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	required_epics TEXT NOT NULL,
	achieved INTEGER NOT NULL DEFAULT 0,
	achieved_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_milestones_project ON milestones(project_id);
`

const migrationV6FileChanges = `
CREATE TABLE IF NOT EXISTS file_changes (
	id TEXT PRIMARY KEY,
	iteration_id TEXT NOT NULL REFERENCES iterations(id),
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	content_hash TEXT,
	observed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_changes_iteration ON file_changes(iteration_id);
`

const migrationV7RetryAttempts = `
CREATE TABLE IF NOT EXISTS retry_attempts (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id),
	attempt INTEGER NOT NULL,
	class TEXT NOT NULL,
	message TEXT,
	next_delay_ms INTEGER NOT NULL DEFAULT 0,
	next_attempt_at DATETIME,
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retry_attempts_task ON retry_attempts(task_id, attempt);
`

const migrationV8Directives = `
CREATE TABLE IF NOT EXISTS directives (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	task_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	intent TEXT NOT NULL,
	body TEXT,
	sticky INTEGER NOT NULL DEFAULT 0,
	consumed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_directives_task ON directives(project_id, task_id, consumed);
`
