package postgresql

// migrations returns the schema migrations for the record store. The message
// and gateway-ref indexes are maintained as side tables refreshed on every
// record write, standing in for the document store's secondary indexes.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS records (
				id TEXT PRIMARY KEY,
				rev INTEGER NOT NULL,
				doc JSONB NOT NULL,
				gateway_ref TEXT,
				completed BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_records_gateway_ref ON records (gateway_ref) WHERE gateway_ref IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_records_completed ON records (completed) WHERE completed;

			CREATE TABLE IF NOT EXISTS record_messages (
				uuid TEXT PRIMARY KEY,
				record_id TEXT NOT NULL REFERENCES records (id) ON DELETE CASCADE,
				ord INTEGER NOT NULL,
				task_state TEXT NOT NULL,
				to_addr TEXT NOT NULL,
				content TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_record_messages_record ON record_messages (record_id);
			CREATE INDEX IF NOT EXISTS idx_record_messages_state ON record_messages (task_state);
		`,
	}
}
