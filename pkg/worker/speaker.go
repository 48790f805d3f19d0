package worker

import (
	"context"

	"github.com/parvbhullar/unpod-sub001/pkg/core/services"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice"
	"github.com/parvbhullar/unpod-sub001/pkg/core/voice/tts"
	"github.com/parvbhullar/unpod-sub001/pkg/transport"
)

// roomSpeaker voices agent speech into a room, sentence by sentence so
// long lines start playing before the whole utterance is synthesized.
type roomSpeaker struct {
	room transport.Room
	svc  *services.TTSService
}

func (s *roomSpeaker) Say(ctx context.Context, text string) error {
	if s.svc == nil || s.svc.Provider == nil {
		return nil
	}
	streamer := voice.NewSpeechStreamer(s.svc.Provider, tts.SynthesizeOptions{Voice: s.svc.Voice}, s.room.SendData)
	return streamer.Say(ctx, text)
}
