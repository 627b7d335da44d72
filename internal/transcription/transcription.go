// Package transcription screens enrollment samples before submission by
// transcribing them with Whisper and checking the words against the phrase
// set the speaker recognition service accepts.
package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/alkime/voiceprint/internal/verification"
	"github.com/alkime/voiceprint/pkg/collections"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Transcriber turns a WAV sample into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Whisper transcribes with the OpenAI Whisper API.
type Whisper struct {
	client openai.Client
}

// NewWhisper creates a Whisper transcriber. Extra options are appended to
// the API key option.
func NewWhisper(apiKey string, opts ...option.RequestOption) (*Whisper, error) {
	// Validate API key
	if apiKey == "" {
		return nil, errors.New("API key required: set OPENAI_API_KEY or run 'voiceprint config set-key openai'")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &Whisper{client: openai.NewClient(opts...)}, nil
}

func (w *Whisper) Transcribe(ctx context.Context, wav []byte) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "sample.wav", "audio/wav"),
		Model: openai.AudioModelWhisper1,
	}

	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create transcription via Whisper API: %w", err)
	}

	return resp.Text, nil
}

// PhraseChecker rejects samples whose transcript is not one of the
// enrollment phrases.
type PhraseChecker struct {
	transcriber Transcriber
	logger      *slog.Logger
}

// NewPhraseChecker wraps t.
func NewPhraseChecker(t Transcriber, logger *slog.Logger) *PhraseChecker {
	if logger == nil {
		logger = slog.Default()
	}

	return &PhraseChecker{transcriber: t, logger: logger}
}

// Check returns a *verification.RecognitionError when the sample clearly
// says something else. Transcription failures are returned as plain errors
// so callers can choose to submit anyway.
func (p *PhraseChecker) Check(ctx context.Context, wav []byte, phrases []string) error {
	if len(phrases) == 0 {
		return nil
	}

	text, err := p.transcriber.Transcribe(ctx, wav)
	if err != nil {
		return fmt.Errorf("phrase check unavailable: %w", err)
	}

	heard := Normalize(text)

	phrase, ok := collections.Find(phrases, func(phrase string) bool {
		want := Normalize(phrase)
		return want != "" && strings.Contains(heard, want)
	})
	if ok {
		p.logger.Debug("phrase check passed", "phrase", phrase)
		return nil
	}

	p.logger.Info("phrase check rejected sample", "heard", text)

	if heard == "" {
		return &verification.RecognitionError{Reason: "no speech detected"}
	}

	return &verification.RecognitionError{
		Reason: fmt.Sprintf("heard %q, which is not one of the enrollment phrases", strings.TrimSpace(text)),
	}
}

// Normalize lower-cases s, drops punctuation and collapses whitespace so a
// transcript can be compared with a phrase.
func Normalize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		case r == '\'':
			// "can't" and "cant" compare equal
			return -1
		default:
			return ' '
		}
	}, s)

	return strings.Join(strings.Fields(cleaned), " ")
}
