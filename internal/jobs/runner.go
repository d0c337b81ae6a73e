package jobs

import (
	"context"
	"errors"
	"log"

	"github.com/minseo-lab/gamedub/internal/gpu"
)

// Trainer runs one voice training job for a character, reporting progress as
// it goes. Implementations live in the synth package.
type Trainer interface {
	Train(ctx context.Context, charID string, mode string, report func(progress float64, stage string)) error
}

// Renderer pre-renders an episode into the audio cache, reporting line
// counts as it goes.
type Renderer interface {
	RenderEpisode(ctx context.Context, episodeID string, report func(completed, total, lineIndex int)) error
}

// Runner executes jobs handed out by the Manager. Each job takes a background
// GPU lease for its whole duration, so live dubbing and jobs contend through
// the arbiter rather than on the device.
type Runner struct {
	mgr      *Manager
	arbiter  *gpu.Arbiter
	trainer  Trainer
	renderer Renderer

	base context.Context
}

func NewRunner(mgr *Manager, arbiter *gpu.Arbiter, trainer Trainer, renderer Renderer) *Runner {
	return &Runner{
		mgr:      mgr,
		arbiter:  arbiter,
		trainer:  trainer,
		renderer: renderer,
	}
}

// Start installs the runner as the manager's starter. Jobs in flight abort
// when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.base = ctx
	r.mgr.SetStarter(r.execute)
}

func (r *Runner) execute(job Job) {
	ctx, cancel := context.WithCancel(r.base)
	defer cancel()
	r.mgr.AttachCancel(job.ID, cancel)

	release, err := r.arbiter.Acquire(ctx, gpu.ClassBackground)
	if err != nil {
		// Cancelled while waiting for the GPU; Cancel already settled the
		// job state, Fail is a no-op in that case.
		_, _ = r.mgr.Fail(job.ID, "gpu_unavailable", err.Error())
		return
	}
	defer release()

	log.Printf("job %s started: kind=%s char=%s episode=%s", job.ID, job.Kind, job.CharID, job.EpisodeID)

	switch job.Kind {
	case KindTraining:
		err = r.trainer.Train(ctx, job.CharID, string(job.Mode), func(progress float64, stage string) {
			_ = r.mgr.Progress(job.ID, progress, stage, 0, 0, 0)
		})
	case KindRender:
		err = r.renderer.RenderEpisode(ctx, job.EpisodeID, func(completed, total, lineIndex int) {
			progress := 0.0
			if total > 0 {
				progress = float64(completed) / float64(total)
			}
			_ = r.mgr.Progress(job.ID, progress, "", completed, total, lineIndex)
		})
	default:
		err = errors.New("unknown job kind")
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("job %s cancelled", job.ID)
			return
		}
		log.Printf("job %s failed: %v", job.ID, err)
		_, _ = r.mgr.Fail(job.ID, "execution_failed", err.Error())
		return
	}
	log.Printf("job %s completed", job.ID)
	_, _ = r.mgr.Complete(job.ID)
}
