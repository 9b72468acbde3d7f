package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hehbot/chatgate/internal/model"
)

// Parse errors
var (
	ErrMissingID        = errors.New("missing id")
	ErrMissingChannelID = errors.New("missing channel_id")
)

// snowflake decodes an ID sent either as a decimal string or a number.
type snowflake int64

func (s *snowflake) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid snowflake %q: %w", b, err)
	}
	*s = snowflake(n)
	return nil
}

func (s *snowflake) ptr() *int64 {
	if s == nil {
		return nil
	}
	v := int64(*s)
	return &v
}

type authorPayload struct {
	ID       *snowflake `json:"id"`
	Username *string    `json:"username"`
}

type attachmentPayload struct {
	URL string `json:"url"`
}

type messagePayload struct {
	ID              *snowflake          `json:"id"`
	ChannelID       *snowflake          `json:"channel_id"`
	GuildID         *snowflake          `json:"guild_id"`
	Author          *authorPayload      `json:"author"`
	Content         *string             `json:"content"`
	Timestamp       string              `json:"timestamp"`
	EditedTimestamp *string             `json:"edited_timestamp"`
	Attachments     []attachmentPayload `json:"attachments"`
}

type deletePayload struct {
	ID        *snowflake `json:"id"`
	ChannelID *snowflake `json:"channel_id"`
	GuildID   *snowflake `json:"guild_id"`
}

type bulkDeletePayload struct {
	IDs       []snowflake `json:"ids"`
	ChannelID *snowflake  `json:"channel_id"`
	GuildID   *snowflake  `json:"guild_id"`
}

type channelPayload struct {
	ID   *snowflake `json:"id"`
	Type *int       `json:"type"`
}

// groupDMChannelType is the CHANNEL_CREATE type for group DMs.
const groupDMChannelType = 3

func parseMessage(data json.RawMessage) (messagePayload, error) {
	var p messagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.ID == nil {
		return p, ErrMissingID
	}
	if p.ChannelID == nil {
		return p, ErrMissingChannelID
	}
	return p, nil
}

func parseDelete(data json.RawMessage) (deletePayload, error) {
	var p deletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.ID == nil {
		return p, ErrMissingID
	}
	if p.ChannelID == nil {
		return p, ErrMissingChannelID
	}
	return p, nil
}

func parseBulkDelete(data json.RawMessage) (bulkDeletePayload, error) {
	var p bulkDeletePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	if p.ChannelID == nil {
		return p, ErrMissingChannelID
	}
	return p, nil
}

// attachmentURLs extracts attachment URLs, skipping entries without one.
func attachmentURLs(in []attachmentPayload) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a.URL != "" {
			out = append(out, a.URL)
		}
	}
	return out
}

// buildMessage converts a create payload into a cache entry.
func buildMessage(p messagePayload) model.Message {
	m := model.Message{
		ID:          int64(*p.ID),
		ChannelID:   int64(*p.ChannelID),
		GuildID:     p.GuildID.ptr(),
		AuthorName:  model.UnknownAuthorName,
		Timestamp:   p.Timestamp,
		Attachments: attachmentURLs(p.Attachments),
	}
	if p.Author != nil {
		if p.Author.ID != nil {
			m.AuthorID = int64(*p.Author.ID)
		}
		if p.Author.Username != nil {
			m.AuthorName = *p.Author.Username
		}
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	return m
}

// buildUpdate converts an update payload. Before is left nil for the
// dispatcher to fill from the cache.
func buildUpdate(p messagePayload) model.MessageUpdate {
	u := model.MessageUpdate{
		ID:          int64(*p.ID),
		ChannelID:   int64(*p.ChannelID),
		GuildID:     p.GuildID.ptr(),
		Attachments: attachmentURLs(p.Attachments),
	}
	if p.Author != nil {
		u.AuthorID = p.Author.ID.ptr()
		if p.Author.Username != nil {
			name := *p.Author.Username
			u.AuthorName = &name
		}
	}
	if p.Content != nil {
		after := *p.Content
		u.After = &after
	}
	if p.EditedTimestamp != nil {
		u.EditTimestamp = *p.EditedTimestamp
	}
	return u
}
