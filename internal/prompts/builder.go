package prompts

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omoideart/omoide-gallery/internal/gallery"
)

// Enhancer rewrites a base prompt, typically with an LLM.
type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (string, error)
}

// Builder produces the base prompt of a gallery, optionally enhanced.
type Builder struct {
	enhancer Enhancer
	timeout  time.Duration
	log      *zap.SugaredLogger
}

// NewBuilder creates a builder. enhancer may be nil.
func NewBuilder(enhancer Enhancer, logger *zap.SugaredLogger) *Builder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Builder{
		enhancer: enhancer,
		timeout:  20 * time.Second,
		log:      logger,
	}
}

// Build returns the prompt for a memory. Enhancement failures fall back to
// the template prompt.
func (b *Builder) Build(ctx context.Context, in gallery.UserInputs) string {
	base := BuildMemoryPrompt(in)
	if b.enhancer == nil {
		return truncatePrompt(base, MaxPromptLength)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	enhanced, err := b.enhancer.Enhance(ctx, base)
	if err != nil {
		b.log.Warnf("⚠️  Prompt enhancement failed, using template: %v", err)
		return truncatePrompt(base, MaxPromptLength)
	}
	enhanced = strings.TrimSpace(enhanced)
	if enhanced == "" {
		return truncatePrompt(base, MaxPromptLength)
	}

	b.log.Infof("✨ Enhanced prompt (%d -> %d chars)", len(base), len(enhanced))
	return truncatePrompt(enhanced, MaxPromptLength)
}

// BuildForSlot is Build plus the slot's composition hint.
func (b *Builder) BuildForSlot(ctx context.Context, in gallery.UserInputs, index int) string {
	return ForSlot(b.Build(ctx, in), index)
}
