package call

import "time"

// HandoverRecord tracks an attempt to bring a human participant into the
// call. One record per session; attempts rotate trunks.
type HandoverRecord struct {
	TargetNumber        string     `json:"target_number"`
	ParticipantIdentity string     `json:"participant_identity"`
	TrunkID             string     `json:"trunk_id"`
	Attempts            int        `json:"attempts"`
	InitiatedAt         time.Time  `json:"initiated_at"`
	AnsweredAt          *time.Time `json:"answered_at,omitempty"`
	Answered            bool       `json:"answered"`
}

// LatencySample is one completed conversational turn's latency breakdown,
// in milliseconds. Fused samples carry only Total.
type LatencySample struct {
	Turn  int       `json:"turn"`
	STT   float64   `json:"stt_latency"`
	LLM   float64   `json:"llm_latency"`
	TTS   float64   `json:"tts_latency"`
	Total float64   `json:"total_latency"`
	Fused bool      `json:"fused,omitempty"`
	At    time.Time `json:"at"`
}

// LatencyLog is the accumulated latency record for a call, with running
// averages maintained as samples arrive.
type LatencyLog struct {
	Samples  []LatencySample `json:"samples"`
	AvgSTT   float64         `json:"avg_stt_latency"`
	AvgLLM   float64         `json:"avg_llm_latency"`
	AvgTTS   float64         `json:"avg_tts_latency"`
	AvgTotal float64         `json:"avg_total_latency"`
	Usage    Usage           `json:"usage"`
}

// IdleState is the idle-monitor bookkeeping for a session.
type IdleState struct {
	LastActivity    time.Time `json:"last_activity"`
	WarningCount    int       `json:"warning_count"`
	WarningInFlight bool      `json:"warning_in_flight"`
}

// QualityReport summarizes conversational anti-patterns detected during
// the call and the weighted overall score derived from them.
type QualityReport struct {
	RepetitionCount    int     `json:"repetition_count"`
	ClarificationCount int     `json:"clarification_count"`
	QuestionOnlyTurns  int     `json:"question_only_turns"`
	AgentTurns         int     `json:"agent_turns"`
	Score              float64 `json:"score"`

	// SemanticRepetition is the average embedding similarity of
	// consecutive agent replies, scored after the call when an
	// embedder is available. Catches paraphrased repetition the
	// hash-based counter misses.
	SemanticRepetition float64 `json:"semantic_repetition,omitempty"`
}

// Result is the final, immutable outcome of a call session. It is built
// exactly once by the finalizer.
type Result struct {
	SessionID string    `json:"session_id"`
	RoomName  string    `json:"room_name"`
	AgentID   string    `json:"agent_id"`
	CallType  Type      `json:"call_type"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	Transcript []TranscriptItem `json:"transcript,omitempty"`
	Latency    LatencyLog       `json:"latency"`
	Handover   *HandoverRecord  `json:"handover,omitempty"`
	Quality    QualityReport    `json:"quality"`
}

// Duration returns the wall-clock length of the call.
func (r *Result) Duration() time.Duration {
	if r.EndedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
