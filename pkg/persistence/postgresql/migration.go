package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE roles (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(64) NOT NULL,
				scope VARCHAR(32) NOT NULL CHECK (scope IN ('global', 'workflow', 'credential')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (name, scope)
			);

			CREATE TABLE users (
				id VARCHAR(255) PRIMARY KEY,
				email VARCHAR(255) NOT NULL,
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				last_name VARCHAR(255) NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL DEFAULT '',
				api_key VARCHAR(255),
				global_role_id VARCHAR(255) REFERENCES roles(id),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_users_email ON users(LOWER(email));
			CREATE UNIQUE INDEX idx_users_api_key ON users(api_key) WHERE api_key IS NOT NULL;
			CREATE INDEX idx_users_created_at ON users(created_at);

			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(128) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				nodes JSONB NOT NULL DEFAULT '[]',
				connections JSONB NOT NULL DEFAULT '[]',
				settings JSONB,
				static_data JSONB,
				tags JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_active ON workflows(active);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);

			CREATE TABLE shared_workflows (
				user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				role_id VARCHAR(255) NOT NULL REFERENCES roles(id),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (user_id, workflow_id)
			);

			CREATE INDEX idx_shared_workflows_workflow_id ON shared_workflows(workflow_id);

			CREATE TABLE credentials (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(128) NOT NULL,
				type VARCHAR(128) NOT NULL,
				data TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_credentials_name_type ON credentials(name, type);

			CREATE TABLE shared_credentials (
				user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				credential_id VARCHAR(255) NOT NULL REFERENCES credentials(id) ON DELETE CASCADE,
				role_id VARCHAR(255) NOT NULL REFERENCES roles(id),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (user_id, credential_id)
			);

			CREATE INDEX idx_shared_credentials_credential_id ON shared_credentials(credential_id);
		`,
	}
}
