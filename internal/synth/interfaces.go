package synth

import "context"

// Synthesizer turns one line of text into a WAV clip for the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// Trainer runs voice model work for a character. Mode is "prepare" (extract
// and clean reference audio) or "finetune" (train the voice model). The
// report callback receives coarse progress in [0,1] plus a stage label.
type Trainer interface {
	Train(ctx context.Context, charID string, mode string, report func(progress float64, stage string)) error
}
