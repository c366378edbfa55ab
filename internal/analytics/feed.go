package analytics

import (
	"context"
	"log/slog"

	"github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/kafka"
)

// Learner is the part of the spell corrector the vocabulary feed drives.
type Learner interface {
	LearnText(text string)
	Seed(counts map[string]uint64)
}

// VocabularyHandler returns a kafka.MessageHandler that teaches l from
// VocabularyEvents. Undecodable messages are logged and committed so the
// feed never stalls on one bad payload.
func VocabularyHandler(l Learner) kafka.MessageHandler {
	logger := slog.Default().With("component", "vocabulary-feed")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[VocabularyEvent](value)
		if err != nil {
			logger.Warn("skipping vocabulary message", "key", string(key), "error", err)
			return nil
		}
		if len(event.Words) > 0 {
			l.Seed(event.Words)
		}
		for _, text := range event.Text {
			l.LearnText(text)
		}
		logger.Debug("vocabulary learned", "texts", len(event.Text), "words", len(event.Words))
		return nil
	}
}
