// Package call defines the shared domain types for voice call sessions:
// call configuration, lifecycle status, transcripts, and the typed
// sub-records attached to a finished call.
package call

import (
	"time"
)

// Type identifies how a call was originated.
type Type string

const (
	TypeInbound  Type = "inbound"
	TypeOutbound Type = "outbound"
	TypeWeb      Type = "web"
)

// Status is the lifecycle state of a call session.
type Status string

const (
	StatusDialing           Status = "dialing"
	StatusRinging           Status = "ringing"
	StatusActive            Status = "active"
	StatusHandoverInitiated Status = "handover_initiated"
	StatusHandoverActive    Status = "handover_active"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusNotConnected      Status = "not_connected"
)

// Terminal reports whether the status is final. Once a session reaches a
// terminal status no further transitions are applied.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusNotConnected:
		return true
	}
	return false
}

// Connected reports whether the call ever reached a live conversation.
func (s Status) Connected() bool {
	switch s {
	case StatusActive, StatusHandoverInitiated, StatusHandoverActive, StatusCompleted:
		return true
	}
	return false
}

// Config carries everything a session needs to run a call.
type Config struct {
	AgentID   string `json:"agent_id"`
	RoomName  string `json:"room_name"`
	SessionID string `json:"session_id"`
	CallType  Type   `json:"call_type"`

	// Capability selections.
	STTProvider string `json:"stt_provider"`
	STTModel    string `json:"stt_model"`
	STTLanguage string `json:"stt_language"`
	LLMProvider string `json:"llm_provider"`
	LLMModel    string `json:"llm_model"`
	TTSProvider string `json:"tts_provider"`
	TTSVoice    string `json:"tts_voice"`

	// Telephony.
	PhoneNumber    string `json:"phone_number,omitempty"`
	TrunkID        string `json:"trunk_id,omitempty"`
	HandoverNumber string `json:"handover_number,omitempty"`

	// Conversation.
	SystemPrompt string `json:"system_prompt,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
	// UseRAG grounds replies on the agent's knowledge notes (the
	// "knowledge" metadata entry) in addition to the system prompt.
	UseRAG bool `json:"use_rag,omitempty"`

	IdleTimeout    time.Duration `json:"idle_timeout"`
	DialingTimeout time.Duration `json:"dialing_timeout"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Merge returns a copy of c with every non-zero field of override applied
// on top. Metadata entries are merged key by key.
func (c Config) Merge(override Config) Config {
	out := c
	if override.AgentID != "" {
		out.AgentID = override.AgentID
	}
	if override.RoomName != "" {
		out.RoomName = override.RoomName
	}
	if override.SessionID != "" {
		out.SessionID = override.SessionID
	}
	if override.CallType != "" {
		out.CallType = override.CallType
	}
	if override.STTProvider != "" {
		out.STTProvider = override.STTProvider
	}
	if override.STTModel != "" {
		out.STTModel = override.STTModel
	}
	if override.STTLanguage != "" {
		out.STTLanguage = override.STTLanguage
	}
	if override.LLMProvider != "" {
		out.LLMProvider = override.LLMProvider
	}
	if override.LLMModel != "" {
		out.LLMModel = override.LLMModel
	}
	if override.TTSProvider != "" {
		out.TTSProvider = override.TTSProvider
	}
	if override.TTSVoice != "" {
		out.TTSVoice = override.TTSVoice
	}
	if override.PhoneNumber != "" {
		out.PhoneNumber = override.PhoneNumber
	}
	if override.TrunkID != "" {
		out.TrunkID = override.TrunkID
	}
	if override.HandoverNumber != "" {
		out.HandoverNumber = override.HandoverNumber
	}
	if override.SystemPrompt != "" {
		out.SystemPrompt = override.SystemPrompt
	}
	if override.Greeting != "" {
		out.Greeting = override.Greeting
	}
	if override.UseRAG {
		out.UseRAG = true
	}
	if override.IdleTimeout != 0 {
		out.IdleTimeout = override.IdleTimeout
	}
	if override.DialingTimeout != 0 {
		out.DialingTimeout = override.DialingTimeout
	}
	if len(override.Metadata) > 0 {
		merged := make(map[string]string, len(c.Metadata)+len(override.Metadata))
		for k, v := range c.Metadata {
			merged[k] = v
		}
		for k, v := range override.Metadata {
			merged[k] = v
		}
		out.Metadata = merged
	}
	return out
}

// Defaults fills unset timing fields with standard values.
func (c Config) Defaults() Config {
	out := c
	if out.IdleTimeout == 0 {
		out.IdleTimeout = 60 * time.Second
	}
	if out.DialingTimeout == 0 {
		out.DialingTimeout = 45 * time.Second
	}
	if out.DialingTimeout < 30*time.Second {
		out.DialingTimeout = 30 * time.Second
	}
	return out
}

// TranscriptItem is one utterance in the conversation.
type TranscriptItem struct {
	Role    string    `json:"role"` // "user", "assistant", "system"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Usage accumulates token counts across a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add combines two Usage values.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}
