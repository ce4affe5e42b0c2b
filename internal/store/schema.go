// SPDX-License-Identifier: MIT

package store

// migrate applies the schema. Statements are idempotent; sqlite executes the
// whole script in one implicit transaction.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mac_address TEXT NOT NULL UNIQUE,
		ip_address TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		vendor TEXT NOT NULL DEFAULT '',
		device_type_guess TEXT NOT NULL DEFAULT '',
		open_ports TEXT NOT NULL DEFAULT '[]',
		confidence_score INTEGER NOT NULL DEFAULT 0,
		adoptable TEXT NOT NULL DEFAULT 'unlikely' CHECK(adoptable IN ('ready', 'needs_config', 'unlikely')),
		reasons TEXT NOT NULL DEFAULT '[]',
		is_adopted INTEGER NOT NULL DEFAULT 0,
		is_hidden INTEGER NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS managed_controllers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		controller_id TEXT NOT NULL UNIQUE,
		controller_type TEXT NOT NULL CHECK(controller_type IN ('ir_blaster', 'network_tv', 'streaming_device', 'audio')),
		protocol TEXT,
		ip_address TEXT NOT NULL DEFAULT '',
		last_ip_address TEXT NOT NULL DEFAULT '',
		mac_address TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		total_ports INTEGER NOT NULL CHECK(total_ports >= 1),
		is_online INTEGER NOT NULL DEFAULT 0,
		last_seen TEXT,
		capabilities TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		CHECK(controller_type = 'ir_blaster' OR protocol IS NOT NULL)
	);

	CREATE TABLE IF NOT EXISTS ports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		controller_id TEXT NOT NULL REFERENCES managed_controllers(controller_id) ON DELETE CASCADE,
		port_number INTEGER NOT NULL,
		connected_device_name TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		tag_ids TEXT NOT NULL DEFAULT '[]',
		default_channel TEXT NOT NULL DEFAULT '',
		connection_config TEXT NOT NULL DEFAULT '{}',
		UNIQUE(controller_id, port_number)
	);

	CREATE TABLE IF NOT EXISTS command_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL DEFAULT '',
		controller_id TEXT NOT NULL,
		port_number INTEGER NOT NULL DEFAULT 0,
		command_kind TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		digit INTEGER NOT NULL DEFAULT 0,
		class TEXT NOT NULL DEFAULT 'interactive' CHECK(class IN ('immediate', 'interactive', 'bulk', 'system')),
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'completed', 'failed')),
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		scheduled_at TEXT,
		created_at TEXT NOT NULL,
		last_attempt_at TEXT,
		completed_at TEXT,
		success INTEGER,
		error_message TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		routing_method TEXT NOT NULL DEFAULT '',
		user_ip TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_command_queue_status_priority ON command_queue(status, priority);
	CREATE INDEX IF NOT EXISTS idx_command_queue_controller_status ON command_queue(controller_id, status);
	CREATE INDEX IF NOT EXISTS idx_command_queue_batch ON command_queue(batch_id);

	CREATE TABLE IF NOT EXISTS command_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command_id INTEGER NOT NULL,
		batch_id TEXT NOT NULL DEFAULT '',
		controller_id TEXT NOT NULL,
		port_number INTEGER NOT NULL DEFAULT 0,
		command_kind TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		success INTEGER,
		error_message TEXT NOT NULL DEFAULT '',
		execution_time_ms INTEGER NOT NULL DEFAULT 0,
		routing_method TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_command_history_controller_created ON command_history(controller_id, created_at);

	CREATE TABLE IF NOT EXISTS port_status (
		controller_id TEXT NOT NULL,
		port_number INTEGER NOT NULL,
		last_channel TEXT NOT NULL DEFAULT '',
		last_command TEXT NOT NULL DEFAULT '',
		last_command_at TEXT,
		last_power_state TEXT,
		last_power_command_at TEXT,
		PRIMARY KEY (controller_id, port_number)
	);

	CREATE TABLE IF NOT EXISTS status_cache (
		controller_id TEXT NOT NULL UNIQUE,
		is_online INTEGER NOT NULL DEFAULT 0,
		power_state TEXT NOT NULL DEFAULT 'unknown' CHECK(power_state IN ('on', 'off', 'unknown')),
		current_channel TEXT NOT NULL DEFAULT '',
		current_input TEXT NOT NULL DEFAULT '',
		volume_level INTEGER NOT NULL DEFAULT 0,
		is_muted INTEGER NOT NULL DEFAULT 0,
		last_checked_at TEXT,
		last_changed_at TEXT,
		check_method TEXT NOT NULL DEFAULT '',
		poll_failures INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		cron_expression TEXT NOT NULL,
		target_type TEXT NOT NULL CHECK(target_type IN ('all', 'selection', 'tag', 'location')),
		target_data TEXT NOT NULL DEFAULT '{}',
		actions TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1,
		last_run TEXT,
		next_run TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schedule_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_id INTEGER NOT NULL,
		batch_id TEXT NOT NULL,
		total_commands INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		color TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
