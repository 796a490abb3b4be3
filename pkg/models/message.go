package models

import (
	"encoding/json"
	"time"
)

// ChannelType represents a messaging platform.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format across all channels.
type Message struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	Channel     ChannelType       `json:"channel"`
	ChannelID   string            `json:"channel_id"`   // Platform-specific message ID
	Direction   Direction         `json:"direction"`
	Role        Role              `json:"role"`
	Content     string            `json:"content"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	ToolCalls   []ToolCall        `json:"tool_calls,omitempty"`
	ToolResults []ToolResult      `json:"tool_results,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`

	// Sources lists citations extracted from the metadata prelude (cite_sources).
	Sources []Source `json:"sources,omitempty"`

	// GeneratedImages lists images produced by generate_image, referenced by
	// artifact ID in the tool result buffer.
	GeneratedImages []string `json:"generated_images,omitempty"`

	// Language is a best-effort BCP-47 tag detected for the message content.
	Language string `json:"language,omitempty"`

	// IsPlaceholder marks a message inserted as a streaming placeholder
	// (see the metadata prelude contract) pending the real content.
	IsPlaceholder bool `json:"is_placeholder,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Source is a citation surfaced via the metadata prelude's cite_sources entry.
type Source struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session represents a conversation thread.
type Session struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	Channel   ChannelType       `json:"channel"`
	ChannelID string            `json:"channel_id"`
	Key       string            `json:"key"`
	Title     string            `json:"title,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Agent represents a configured AI agent. It serves both interactive chat
// (via a Conversation) and autonomous cron-scheduled runs.
type Agent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	Name         string         `json:"name"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tools        []string       `json:"tools,omitempty"`
	Config       map[string]any `json:"config,omitempty"`

	// ToolPermissions is nil to defer to the deployment default policy, or
	// a concrete (possibly empty) policy owned by this agent.
	ToolPermissions *ToolPermissions `json:"tool_permissions,omitempty"`

	// Enabled gates autonomous scheduling; disabled agents are still usable
	// for interactive chat.
	Enabled bool `json:"enabled"`

	// Schedule is a robfig/cron expression (optional seconds field supported).
	// Empty means the agent is interactive-only.
	Schedule string `json:"schedule,omitempty"`

	// Timezone is an IANA zone name used to evaluate Schedule. Defaults to UTC.
	Timezone string `json:"timezone,omitempty"`

	// BudgetLimitUSD caps autonomous daily spend attributed to MessageCost
	// rows for this agent. Zero means unlimited.
	BudgetLimitUSD float64 `json:"budget_limit_usd,omitempty"`

	// TriggerChainDepthLimit bounds how many agent-triggers-agent hops may
	// chain before the executor refuses to continue. Zero means use the
	// package default (25).
	TriggerChainDepthLimit int `json:"trigger_chain_depth_limit,omitempty"`

	NextRunAt time.Time `json:"next_run_at,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`

	// ConversationID is the fixed conversation autonomous runs post into,
	// if the agent is configured to report into a single thread.
	ConversationID string `json:"conversation_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultTriggerChainDepthLimit is used when Agent.TriggerChainDepthLimit is zero.
const DefaultTriggerChainDepthLimit = 25

// APIKey represents an API key for programmatic access.
type APIKey struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix"` // First 8 chars for identification
	Scopes     []string  `json:"scopes,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
