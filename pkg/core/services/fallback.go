package services

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ChainEntry is one candidate in an ordered fallback chain.
type ChainEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model,omitempty"`
	Voice    string `yaml:"voice,omitempty"`
	Language string `yaml:"language,omitempty"`
}

// Chains holds the ordered fallback chain per capability kind. When the
// primary provider exhausts its retries, each entry gets exactly one
// attempt in order.
type Chains struct {
	STT []ChainEntry `yaml:"stt"`
	LLM []ChainEntry `yaml:"llm"`
	TTS []ChainEntry `yaml:"tts"`
}

// DefaultChains returns the built-in fallback order.
func DefaultChains() Chains {
	return Chains{
		STT: []ChainEntry{
			{Provider: "deepgram", Model: "nova-2"},
			{Provider: "openai", Model: "whisper-1"},
		},
		LLM: []ChainEntry{
			{Provider: "openai", Model: "gpt-4o"},
			{Provider: "gemini", Model: "gemini-2.0-flash"},
			{Provider: "openai", Model: "gpt-4o-mini"},
		},
		TTS: []ChainEntry{
			{Provider: "cartesia"},
			{Provider: "openai", Voice: "alloy"},
		},
	}
}

// LoadChains reads a YAML chain file, filling unset kinds from the
// defaults.
func LoadChains(path string) (Chains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Chains{}, fmt.Errorf("read chains: %w", err)
	}
	var chains Chains
	if err := yaml.Unmarshal(data, &chains); err != nil {
		return Chains{}, fmt.Errorf("parse chains: %w", err)
	}
	defaults := DefaultChains()
	if len(chains.STT) == 0 {
		chains.STT = defaults.STT
	}
	if len(chains.LLM) == 0 {
		chains.LLM = defaults.LLM
	}
	if len(chains.TTS) == 0 {
		chains.TTS = defaults.TTS
	}
	return chains, nil
}

func (c Chains) forKind(kind Kind) []ChainEntry {
	switch kind {
	case KindSTT:
		return c.STT
	case KindLLM:
		return c.LLM
	case KindTTS:
		return c.TTS
	}
	return nil
}
