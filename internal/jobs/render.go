package jobs

import (
	"context"
	"fmt"

	"github.com/minseo-lab/gamedub/internal/rendercache"
	"github.com/minseo-lab/gamedub/internal/script"
	"github.com/minseo-lab/gamedub/internal/synth"
	"github.com/minseo-lab/gamedub/internal/voicemap"
)

// EpisodeRenderer synthesizes every spoken line of an episode into the render
// cache. Lines already cached are skipped, so a restarted job resumes where
// the previous one stopped.
type EpisodeRenderer struct {
	loader   script.Loader
	resolver *voicemap.Resolver
	synth    synth.Synthesizer
	cache    rendercache.Store
}

func NewEpisodeRenderer(loader script.Loader, resolver *voicemap.Resolver, synthesizer synth.Synthesizer, cache rendercache.Store) *EpisodeRenderer {
	return &EpisodeRenderer{
		loader:   loader,
		resolver: resolver,
		synth:    synthesizer,
		cache:    cache,
	}
}

func (r *EpisodeRenderer) RenderEpisode(ctx context.Context, episodeID string, report func(completed, total, lineIndex int)) error {
	episode, err := r.loader.LoadEpisode(ctx, episodeID)
	if err != nil {
		return fmt.Errorf("load episode: %w", err)
	}

	spoken := make([]script.Line, 0, len(episode.Lines))
	for _, line := range episode.Lines {
		if line.Type.Spoken() {
			spoken = append(spoken, line)
		}
	}

	completed := 0
	for _, line := range spoken {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, ok, err := r.cache.Get(ctx, episodeID, line.Index); err == nil && ok {
			completed++
			report(completed, len(spoken), line.Index)
			continue
		}

		key := voicemap.SpeakerKey(line.SpeakerID, line.SpeakerName)
		voice, ok := r.resolver.Resolve(ctx, key, line.SpeakerName)
		if !ok {
			return fmt.Errorf("no voice for speaker %q (line %d)", line.SpeakerName, line.Index)
		}

		audio, err := r.synth.Synthesize(ctx, line.Text, voice)
		if err != nil {
			return fmt.Errorf("synthesize line %d: %w", line.Index, err)
		}
		if err := r.cache.Put(ctx, rendercache.Entry{
			EpisodeID: episodeID,
			LineIndex: line.Index,
			VoiceID:   voice,
			Audio:     audio,
		}); err != nil {
			return fmt.Errorf("cache line %d: %w", line.Index, err)
		}

		completed++
		report(completed, len(spoken), line.Index)
	}
	return nil
}
