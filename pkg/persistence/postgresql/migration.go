package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE sessions (
				id VARCHAR(64) PRIMARY KEY,
				aggregated_script_id VARCHAR(64) NOT NULL,
				status VARCHAR(32) NOT NULL,
				context_snapshot JSONB,
				step_records JSONB,
				cursor INT NOT NULL DEFAULT 1,
				error TEXT,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_sessions_status ON sessions(status);
			CREATE INDEX idx_sessions_script ON sessions(aggregated_script_id);
			CREATE INDEX idx_sessions_started_at ON sessions(started_at);

			CREATE TABLE session_logs (
				id BIGSERIAL PRIMARY KEY,
				session_id VARCHAR(64) NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL,
				level VARCHAR(16) NOT NULL,
				message TEXT NOT NULL,
				step_order INT
			);

			CREATE INDEX idx_session_logs_session ON session_logs(session_id);
		`,
	}
}
