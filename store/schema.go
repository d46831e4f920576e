package store

// Schema statements, safe to run multiple times.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS elections_active (
		id TEXT PRIMARY KEY,
		context TEXT NOT NULL,
		election_type TEXT NOT NULL,
		phase TEXT NOT NULL,
		record TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_elections_active_context ON elections_active(context, election_type)`,
	`CREATE TABLE IF NOT EXISTS elections_archive (
		id TEXT PRIMARY KEY,
		context TEXT NOT NULL,
		election_type TEXT NOT NULL,
		phase TEXT NOT NULL,
		record TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		archived_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS elections_quarantine (
		id TEXT NOT NULL,
		reason TEXT NOT NULL,
		record TEXT NOT NULL,
		quarantined_at TEXT NOT NULL
	)`,
}
