package database

// schemaStatements are applied in order by Migrate. Each is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS reservations (
		id                  UUID PRIMARY KEY,
		user_id             UUID NOT NULL,
		reservation_code    VARCHAR(6) NOT NULL,
		booking_reference   VARCHAR(8) NOT NULL,
		remote_order_id     VARCHAR(128),
		status              VARCHAR(20) NOT NULL
		                    CHECK (status IN ('pending','confirmed','cancelled','expired','refunded','completed')),
		itineraries         JSONB NOT NULL,
		passengers          JSONB NOT NULL,
		contact             JSONB NOT NULL,
		pricing             JSONB NOT NULL,
		first_departure_at  TIMESTAMPTZ NOT NULL,
		last_arrival_at     TIMESTAMPTZ NOT NULL,
		hold_expires_at     TIMESTAMPTZ NOT NULL,
		last_synced_at      TIMESTAMPTZ,
		needs_resync        BOOLEAN NOT NULL DEFAULT FALSE,
		last_provider_error VARCHAR(255),
		version             INTEGER NOT NULL DEFAULT 1,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT reservations_reservation_code_key UNIQUE (reservation_code),
		CONSTRAINT reservations_booking_reference_key UNIQUE (booking_reference)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_pending_hold ON reservations (hold_expires_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_needs_resync ON reservations (updated_at) WHERE needs_resync`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_confirmed_arrival ON reservations (last_arrival_at) WHERE status = 'confirmed'`,
	`CREATE TABLE IF NOT EXISTS reservation_status_history (
		id             BIGSERIAL PRIMARY KEY,
		reservation_id UUID NOT NULL REFERENCES reservations(id),
		status         VARCHAR(20) NOT NULL,
		reason         TEXT NOT NULL,
		changed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_history_reservation ON reservation_status_history (reservation_id, id)`,
	`CREATE TABLE IF NOT EXISTS reservation_changes (
		id              BIGSERIAL PRIMARY KEY,
		reservation_id  UUID NOT NULL REFERENCES reservations(id),
		field           VARCHAR(64) NOT NULL,
		passenger_index INTEGER,
		old_value       TEXT NOT NULL,
		new_value       TEXT NOT NULL,
		changed_by      UUID NOT NULL,
		changed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservation_changes_reservation ON reservation_changes (reservation_id, id)`,
	`CREATE TABLE IF NOT EXISTS audit_logs (
		id          BIGSERIAL PRIMARY KEY,
		user_id     UUID,
		action      VARCHAR(64) NOT NULL,
		entity_type VARCHAR(64) NOT NULL,
		entity_id   UUID,
		ip_address  VARCHAR(64),
		user_agent  TEXT,
		details     JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}
