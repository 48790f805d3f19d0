package voice

import (
	"testing"
)

func TestSentenceBuffer_CompletedSentences(t *testing.T) {
	b := NewSentenceBuffer()

	got := b.Add("Hello world. ")
	if len(got) != 1 || got[0] != "Hello world." {
		t.Fatalf("Add = %v, want [Hello world.]", got)
	}

	got = b.Add("First sentence. Second sentence! ")
	if len(got) != 2 {
		t.Fatalf("Add = %v, want two sentences", got)
	}
}

func TestSentenceBuffer_StreamedChunks(t *testing.T) {
	b := NewSentenceBuffer()

	var all []string
	for _, chunk := range []string{"The ", "quick ", "brown ", "fox. ", "Jumps ", "over. "} {
		all = append(all, b.Add(chunk)...)
	}
	if len(all) != 2 || all[0] != "The quick brown fox." || all[1] != "Jumps over." {
		t.Fatalf("sentences = %v", all)
	}

	if got := b.Add("Hello wo"); len(got) != 0 {
		t.Fatalf("partial text returned %v", got)
	}
	if got := b.Add("rld. "); len(got) != 1 || got[0] != "Hello world." {
		t.Fatalf("completed split sentence = %v", got)
	}
}

func TestSentenceBuffer_ShortSentenceRidesWithNext(t *testing.T) {
	b := NewSentenceBuffer()

	// "Hi." alone is below the word minimum and waits for company.
	if got := b.Add("Hi. "); len(got) != 0 {
		t.Fatalf("short sentence emitted alone: %v", got)
	}
	got := b.Add("Thanks for calling Acme. ")
	if len(got) != 1 || got[0] != "Hi. Thanks for calling Acme." {
		t.Fatalf("merged sentence = %v", got)
	}
}

func TestSentenceBuffer_FlushReturnsHeldAndPending(t *testing.T) {
	b := NewSentenceBuffer()

	b.Add("Ok. ")
	b.Add("and one more thing")
	if got := b.Flush(); got != "Ok. and one more thing" {
		t.Fatalf("Flush = %q", got)
	}
	if b.Pending() != "" {
		t.Fatalf("buffer not empty after flush: %q", b.Pending())
	}

	// A held fragment with nothing behind it still comes out on Flush.
	b.Add("Bye! ")
	if got := b.Flush(); got != "Bye!" {
		t.Fatalf("Flush = %q", got)
	}
}

func TestSentenceBuffer_MinWordsDisabled(t *testing.T) {
	b := NewSentenceBufferMinWords(1)
	if got := b.Add("Hi. "); len(got) != 1 || got[0] != "Hi." {
		t.Fatalf("Add = %v, want [Hi.]", got)
	}
}

func TestSentenceBuffer_AbbreviationsDoNotSplit(t *testing.T) {
	b := NewSentenceBuffer()

	got := b.Add("Dr. Smith will call at 3 p.m. today. And J. Jones too. ")
	want := []string{"Dr. Smith will call at 3 p.m. today.", "And J. Jones too."}
	if len(got) != len(want) {
		t.Fatalf("sentences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sentences = %v, want %v", got, want)
		}
	}
}

func TestSentenceBuffer_QuestionAndExclamation(t *testing.T) {
	b := NewSentenceBuffer()

	got := b.Add("Are you there? Great to hear! ")
	if len(got) != 2 || got[0] != "Are you there?" || got[1] != "Great to hear!" {
		t.Fatalf("sentences = %v", got)
	}
}
