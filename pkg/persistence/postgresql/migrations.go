package postgresql

// migrations returns the schema migration set, keyed by version. Aggregates
// are stored as JSONB documents next to the columns the engine queries by.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_definitions (
				id TEXT NOT NULL,
				version INTEGER NOT NULL,
				tenant_id TEXT NOT NULL,
				name TEXT NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				data JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (id, version)
			);

			CREATE INDEX IF NOT EXISTS idx_definitions_tenant_name
				ON workflow_definitions (tenant_id, name);

			CREATE TABLE IF NOT EXISTS workflow_instances (
				id TEXT PRIMARY KEY,
				definition_id TEXT NOT NULL,
				definition_version INTEGER NOT NULL,
				tenant_id TEXT NOT NULL,
				status TEXT NOT NULL,
				data JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_instances_definition
				ON workflow_instances (definition_id);

			CREATE INDEX IF NOT EXISTS idx_instances_status
				ON workflow_instances (status);

			CREATE TABLE IF NOT EXISTS step_instances (
				id TEXT NOT NULL,
				instance_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				ordinal BIGSERIAL,
				data JSONB NOT NULL,
				PRIMARY KEY (instance_id, id)
			);

			CREATE TABLE IF NOT EXISTS audit_log (
				instance_id TEXT NOT NULL,
				sequence BIGINT NOT NULL,
				data JSONB NOT NULL,
				PRIMARY KEY (instance_id, sequence)
			);
		`,
	}
}
