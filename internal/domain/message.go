package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Message is a single chat line posted by a user to a channel.
type Message struct {
	Text      string    `validate:"required"`
	Username  string    `validate:"required"`
	Channel   string    `validate:"required"`
	Timestamp time.Time `validate:"required"`
}

func NewMessage(text, username, channel string, timestamp time.Time) Message {
	return Message{Text: text, Username: username, Channel: channel, Timestamp: timestamp}
}

// Equal compares the strings exactly and the timestamps at millisecond resolution.
func (m Message) Equal(other Message) bool {
	return m.Text == other.Text &&
		m.Username == other.Username &&
		m.Channel == other.Channel &&
		m.Timestamp.UnixMilli() == other.Timestamp.UnixMilli()
}

func (m Message) Validate() error {
	return validate.Struct(m)
}

func (m Message) String() string {
	return fmt.Sprintf("[%s] %s: %s", m.Channel, m.Username, m.Text)
}

// messageJSON is the wire shape. Timestamps travel as Unix seconds.
type messageJSON struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		Text:      m.Text,
		Username:  m.Username,
		Channel:   m.Channel,
		Timestamp: m.Timestamp.Unix(),
	})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Message{
		Text:     raw.Text,
		Username: raw.Username,
		Channel:  raw.Channel,
	}
	if raw.Timestamp != 0 {
		m.Timestamp = time.Unix(raw.Timestamp, 0).UTC()
	}
	return nil
}

// MessageRepository persists and queries chat messages.
type MessageRepository interface {
	AddMessage(ctx context.Context, msg Message) error
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	GetMessagesFromChannel(ctx context.Context, channel string, limit int64) ([]Message, error)
	GetMessagesByUser(ctx context.Context, username string) ([]Message, error)
}
