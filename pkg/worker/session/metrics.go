package session

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/parvbhullar/unpod-sub001/pkg/core/call"
)

// LatencyAggregator collects per-turn component latencies and folds them
// into a LatencyLog. A turn's sample is emitted once all three component
// readings are present; fused speech-to-speech providers report a single
// reading through RecordFused instead.
type LatencyAggregator struct {
	mu   sync.Mutex
	log  call.LatencyLog
	turn int

	pendingSTT, pendingLLM, pendingTTS float64
	hasSTT, hasLLM, hasTTS             bool

	sumSTT, sumLLM, sumTTS, sumTotal float64
	componentSamples, totalSamples   int

	now func() time.Time
}

func NewLatencyAggregator() *LatencyAggregator {
	return &LatencyAggregator{now: time.Now}
}

// RecordSTT notes the recognition end-of-utterance delay for the current
// turn, in milliseconds.
func (a *LatencyAggregator) RecordSTT(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingSTT = ms
	a.hasSTT = true
	a.flushLocked()
}

// RecordLLM notes the model time-to-first-token for the current turn.
func (a *LatencyAggregator) RecordLLM(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingLLM = ms
	a.hasLLM = true
	a.flushLocked()
}

// RecordTTS notes the synthesis time-to-first-byte for the current turn.
func (a *LatencyAggregator) RecordTTS(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pendingTTS = ms
	a.hasTTS = true
	a.flushLocked()
}

// RecordFused appends a sample for a provider that fuses recognition,
// generation, and synthesis into one hop.
func (a *LatencyAggregator) RecordFused(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turn++
	a.appendLocked(call.LatencySample{
		Turn:  a.turn,
		Total: ms,
		Fused: true,
		At:    a.now(),
	})
}

// AddUsage accumulates token counts onto the log.
func (a *LatencyAggregator) AddUsage(u call.Usage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.Usage = a.log.Usage.Add(u)
}

// flushLocked emits a sample once all three component readings are in,
// then resets the turn.
func (a *LatencyAggregator) flushLocked() {
	if !a.hasSTT || !a.hasLLM || !a.hasTTS {
		return
	}
	a.turn++
	a.appendLocked(call.LatencySample{
		Turn:  a.turn,
		STT:   a.pendingSTT,
		LLM:   a.pendingLLM,
		TTS:   a.pendingTTS,
		Total: a.pendingSTT + a.pendingLLM + a.pendingTTS,
		At:    a.now(),
	})
	a.hasSTT, a.hasLLM, a.hasTTS = false, false, false
	a.pendingSTT, a.pendingLLM, a.pendingTTS = 0, 0, 0
}

func (a *LatencyAggregator) appendLocked(s call.LatencySample) {
	if n := len(a.log.Samples); n > 0 {
		last := a.log.Samples[n-1]
		if last.STT == s.STT && last.LLM == s.LLM && last.TTS == s.TTS &&
			last.Total == s.Total && last.Fused == s.Fused {
			// Duplicate readings from a re-delivered callback; drop.
			a.turn--
			return
		}
	}
	a.log.Samples = append(a.log.Samples, s)

	a.totalSamples++
	a.sumTotal += s.Total
	a.log.AvgTotal = a.sumTotal / float64(a.totalSamples)
	if !s.Fused {
		a.componentSamples++
		a.sumSTT += s.STT
		a.sumLLM += s.LLM
		a.sumTTS += s.TTS
		a.log.AvgSTT = a.sumSTT / float64(a.componentSamples)
		a.log.AvgLLM = a.sumLLM / float64(a.componentSamples)
		a.log.AvgTTS = a.sumTTS / float64(a.componentSamples)
	}
}

// Log returns a snapshot of the accumulated latency log.
func (a *LatencyAggregator) Log() call.LatencyLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.log
	out.Samples = append([]call.LatencySample(nil), a.log.Samples...)
	return out
}

// clarificationPhrases flag agent turns that ask the caller to repeat or
// rephrase instead of moving the conversation forward.
var clarificationPhrases = []string{
	"could you repeat",
	"can you repeat",
	"say that again",
	"didn't catch",
	"didn't quite catch",
	"could you clarify",
	"can you clarify",
	"what do you mean",
	"not sure i understand",
	"don't understand",
}

const repetitionWindow = 5

// QualityDetector inspects each agent utterance for conversational
// anti-patterns: repeated phrasing, question-only turns, and excessive
// clarification requests. Observation never blocks the speech path.
type QualityDetector struct {
	mu     sync.Mutex
	recent []uint64
	report call.QualityReport
}

func NewQualityDetector() *QualityDetector {
	return &QualityDetector{}
}

// Observe records one agent utterance.
func (d *QualityDetector) Observe(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	h := phraseHash(trimmed)
	lower := strings.ToLower(trimmed)
	words := len(strings.Fields(trimmed))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.report.AgentTurns++

	for _, prev := range d.recent {
		if prev == h {
			d.report.RepetitionCount++
			break
		}
	}
	d.recent = append(d.recent, h)
	if len(d.recent) > repetitionWindow {
		d.recent = d.recent[len(d.recent)-repetitionWindow:]
	}

	if strings.HasSuffix(trimmed, "?") && words < 20 {
		d.report.QuestionOnlyTurns++
	}
	for _, phrase := range clarificationPhrases {
		if strings.Contains(lower, phrase) {
			d.report.ClarificationCount++
			break
		}
	}
}

// Report returns the current quality report with the weighted score
// filled in.
func (d *QualityDetector) Report() call.QualityReport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.report
	out.Score = qualityScore(out)
	return out
}

// qualityScore weights the anti-pattern rates into a 0..1 score, where 1
// is a clean conversation.
func qualityScore(r call.QualityReport) float64 {
	if r.AgentTurns == 0 {
		return 1.0
	}
	turns := float64(r.AgentTurns)
	penalty := 0.4*float64(r.RepetitionCount)/turns +
		0.35*float64(r.ClarificationCount)/turns +
		0.25*float64(r.QuestionOnlyTurns)/turns
	score := 1.0 - penalty
	if score < 0 {
		return 0
	}
	return score
}

// phraseHash hashes the first 100 characters of an utterance, lowercased,
// so light suffix variation still counts as a repeat.
func phraseHash(text string) uint64 {
	lower := strings.ToLower(text)
	if len(lower) > 100 {
		lower = lower[:100]
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(lower))
	return h.Sum64()
}
