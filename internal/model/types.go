package model

// Values used for the synthetic message emitted when a group DM is created.
const (
	SystemAuthorName     = "System"
	ChannelCreateContent = "CHANNEL_CREATE"
)

// UnknownAuthorName is used when a create payload carries no author name.
const UnknownAuthorName = "Unknown"

// -----------------------------------------------------------------------------
// Cached Types
// -----------------------------------------------------------------------------

// Message is an immutable snapshot of a message as it was created.
// It is the value stored in the message cache.
type Message struct {
	ID          int64    `json:"id,string"`                 // Message snowflake
	ChannelID   int64    `json:"channel_id,string"`         // Channel snowflake
	GuildID     *int64   `json:"guild_id,omitempty,string"` // Parent guild, nil for DMs
	AuthorID    int64    `json:"author_id,string"`          // Author snowflake
	AuthorName  string   `json:"author_name"`               // Author username
	Content     string   `json:"content"`                   // Text content at creation (or last observed edit)
	Timestamp   string   `json:"timestamp"`                 // Creation time (ISO-8601)
	Attachments []string `json:"attachments"`               // Attachment URLs
}

// -----------------------------------------------------------------------------
// Transient Event Types
// -----------------------------------------------------------------------------

// MessageUpdate describes an edit. Before is reconstructed from the cache and
// is nil when the original message was never observed.
type MessageUpdate struct {
	ID            int64    `json:"id,string"`
	ChannelID     int64    `json:"channel_id,string"`
	GuildID       *int64   `json:"guild_id,omitempty,string"`
	AuthorID      *int64   `json:"author_id,omitempty,string"`
	AuthorName    *string  `json:"author_name,omitempty"`
	Before        *string  `json:"before"` // Content before the edit
	After         *string  `json:"after"`  // Content after the edit, nil when the payload had none
	EditTimestamp string   `json:"edit_timestamp,omitempty"`
	Attachments   []string `json:"attachments"`
}

// MessageDelete describes a deletion. Everything except the IDs comes from
// the cache, so a delete for an unseen message carries only IDs.
type MessageDelete struct {
	ID          int64    `json:"id,string"`
	ChannelID   int64    `json:"channel_id,string"`
	GuildID     *int64   `json:"guild_id,omitempty,string"`
	AuthorID    *int64   `json:"author_id,omitempty,string"`
	AuthorName  *string  `json:"author_name,omitempty"`
	Content     *string  `json:"content,omitempty"`
	Timestamp   *string  `json:"timestamp,omitempty"`
	Attachments []string `json:"attachments"`
}

// HasSnapshot reports whether the delete was backfilled from a cached message.
func (d MessageDelete) HasSnapshot() bool {
	return d.Content != nil
}

// Clone returns a copy of m that shares no mutable state with it.
func (m Message) Clone() Message {
	out := m
	if m.GuildID != nil {
		g := *m.GuildID
		out.GuildID = &g
	}
	out.Attachments = CloneAttachments(m.Attachments)
	return out
}

// CloneAttachments copies an attachment list. It never returns nil.
func CloneAttachments(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
