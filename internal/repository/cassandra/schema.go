package cassandra

// Schema creates the message tables. Messages are partitioned by chat and
// clustered newest first; message_index resolves a message id to its row key
// and doubles as the dedupe record for client-generated ids.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		chat_id            uuid,
		created_at         timestamp,
		message_id         uuid,
		sender_id          uuid,
		kind               text,
		is_group           boolean,
		content_ciphertext text,
		iv                 text,
		wrapped_keys       map<uuid, text>,
		system_action      text,
		system_target      uuid,
		system_initiator   uuid,
		call_type          text,
		call_duration      int,
		call_status        text,
		forwarded_from     uuid,
		recipients         set<uuid>,
		delivered_to       set<uuid>,
		seen_by            set<uuid>,
		deleted_for        set<uuid>,
		deleted_for_all    boolean,
		PRIMARY KEY ((chat_id), created_at, message_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, message_id ASC)`,
	`CREATE TABLE IF NOT EXISTS message_index (
		message_id uuid PRIMARY KEY,
		chat_id    uuid,
		created_at timestamp
	)`,
}
