package kook

import "fmt"

// Message type codes accepted by the message create endpoint.
const (
	TextMessage      = 1
	KMarkdownMessage = 9
)

// Channel types carried on event messages.
const (
	ChannelGroup  = "GROUP"
	ChannelPerson = "PERSON"
)

// Result codes returned in the REST envelope and in signal frame payloads.
const (
	CodeOK                = 0
	CodeMissingParam      = 40100
	CodeInvalidToken      = 40101
	CodeTokenVerifyFailed = 40102
	CodeTokenExpired      = 40103
)

// APIError is a non-zero result code returned by the KOOK API.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kook api code %d: %s", e.Code, e.Message)
}

// MessageCreate is the request body for the message create endpoint. Type
// defaults server-side to plain text when omitted; Quote references the
// message being replied to.
type MessageCreate struct {
	Type     int    `json:"type,omitempty"`
	TargetID string `json:"target_id"`
	Content  string `json:"content"`
	Quote    string `json:"quote,omitempty"`
}

// User is the subset of the user object the bot needs about itself.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Bot      bool   `json:"bot"`
}

// Author identifies the sender of an event message.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Bot      bool   `json:"bot"`
}

// Extra carries the guild context attached to an event message.
type Extra struct {
	GuildID     string `json:"guild_id"`
	ChannelName string `json:"channel_name"`
	Author      Author `json:"author"`
}

// EventMessage is the payload of a gateway event frame. MsgTimestamp is
// milliseconds since the Unix epoch.
type EventMessage struct {
	ChannelType  string `json:"channel_type"`
	Type         int    `json:"type"`
	TargetID     string `json:"target_id"`
	AuthorID     string `json:"author_id"`
	Content      string `json:"content"`
	MsgID        string `json:"msg_id"`
	MsgTimestamp int64  `json:"msg_timestamp"`
	Extra        Extra  `json:"extra"`
}
