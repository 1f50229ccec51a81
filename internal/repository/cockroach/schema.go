package cockroach

// Schema creates the relational tables. private_key holds "low:high" of the
// two participant ids of a private chat so create-or-get is a single insert.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		chat_id     UUID PRIMARY KEY,
		is_group    BOOL NOT NULL,
		name        STRING,
		private_key STRING UNIQUE,
		created_by  UUID NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_participants (
		chat_id   UUID NOT NULL REFERENCES chats (chat_id) ON DELETE CASCADE,
		user_id   UUID NOT NULL,
		position  INT8 NOT NULL,
		is_admin  BOOL NOT NULL DEFAULT false,
		PRIMARY KEY (chat_id, user_id),
		INDEX participants_by_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS membership_events (
		chat_id     UUID NOT NULL REFERENCES chats (chat_id) ON DELETE CASCADE,
		seq         INT8 NOT NULL,
		action      STRING NOT NULL,
		target_user UUID NOT NULL,
		initiator   UUID NOT NULL,
		at          TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (chat_id, seq),
		INDEX events_by_target (target_user)
	)`,
	`CREATE TABLE IF NOT EXISTS identity_keys (
		user_id    UUID PRIMARY KEY,
		public_key STRING NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
