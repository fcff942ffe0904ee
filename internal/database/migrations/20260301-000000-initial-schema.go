package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260301-000000",
		Description: "Initial webhook delivery schema",
		Up: []string{
			// Webhook configs - named delivery destinations with retry policy
			`CREATE TABLE IF NOT EXISTS webhook_configs (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				target_url TEXT NOT NULL,
				secret_encrypted TEXT,
				headers_json TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				max_retries INTEGER NOT NULL DEFAULT 3,
				backoff_strategy TEXT NOT NULL DEFAULT 'exponential',
				initial_interval_s INTEGER NOT NULL DEFAULT 60,
				backoff_factor REAL NOT NULL DEFAULT 2.0,
				max_interval_s INTEGER NOT NULL DEFAULT 3600,
				max_age_s INTEGER NOT NULL DEFAULT 86400,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_configs_name_active ON webhook_configs(name, is_active)`,

			// Messages - inbound events advancing through the state machine
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				config_id TEXT NOT NULL,
				webhook_name TEXT NOT NULL,
				payload TEXT NOT NULL,
				target_url TEXT NOT NULL,
				signature TEXT NOT NULL,
				headers_json TEXT,
				status TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				next_retry_at TEXT,
				last_error TEXT,
				processing_node TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				FOREIGN KEY (config_id) REFERENCES webhook_configs(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_status_next_retry ON messages(status, next_retry_at)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_config_created ON messages(config_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_status_updated ON messages(status, updated_at)`,

			// Delivery attempts - append-only audit log, one row per outbound request
			`CREATE TABLE IF NOT EXISTS delivery_attempts (
				id TEXT PRIMARY KEY,
				message_id TEXT NOT NULL,
				attempt_number INTEGER NOT NULL,
				attempted_at TEXT NOT NULL,
				target_url TEXT NOT NULL,
				status_code INTEGER,
				response_body TEXT,
				response_headers_json TEXT,
				request_duration_ms INTEGER NOT NULL DEFAULT 0,
				error_message TEXT,
				processing_node TEXT,
				UNIQUE(message_id, attempt_number),
				FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_attempts_message ON delivery_attempts(message_id)`,
			`CREATE INDEX IF NOT EXISTS idx_attempts_attempted_at ON delivery_attempts(attempted_at)`,

			// Per-config health counters, updated atomically by the delivery worker
			`CREATE TABLE IF NOT EXISTS webhook_health_stats (
				config_id TEXT PRIMARY KEY,
				webhook_name TEXT NOT NULL,
				total_sent INTEGER NOT NULL DEFAULT 0,
				total_delivered INTEGER NOT NULL DEFAULT 0,
				total_failed INTEGER NOT NULL DEFAULT 0,
				avg_response_time_ms REAL NOT NULL DEFAULT 0,
				last_success_at TEXT,
				last_error_at TEXT,
				last_error TEXT,
				updated_at TEXT NOT NULL,
				FOREIGN KEY (config_id) REFERENCES webhook_configs(id)
			)`,
		},
	})
}
