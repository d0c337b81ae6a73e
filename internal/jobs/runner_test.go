package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/minseo-lab/gamedub/internal/gpu"
	"github.com/minseo-lab/gamedub/internal/synth"
)

func waitForStatus(t *testing.T, mgr *Manager, jobID string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := mgr.Get(jobID)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", jobID, err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := mgr.Get(jobID)
	t.Fatalf("job %s status = %s, want %s", jobID, job.Status, want)
	return Job{}
}

func TestRunnerExecutesTrainingJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager()
	trainer := synth.NewMockTrainer()
	trainer.StepDelay = time.Millisecond
	runner := NewRunner(mgr, gpu.NewArbiter(true), trainer, nil)
	runner.Start(ctx)

	job, err := mgr.Submit(SubmitRequest{Kind: KindTraining, CharID: "hero", Mode: ModeFinetune})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	done := waitForStatus(t, mgr, job.ID, StatusCompleted)
	if done.Progress != 1.0 {
		t.Fatalf("Progress = %v, want 1.0", done.Progress)
	}
	if done.Stage != "exporting" {
		t.Fatalf("Stage = %q, want %q", done.Stage, "exporting")
	}
}

func TestRunnerWaitsForGPULease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arbiter := gpu.NewArbiter(true)
	release, ok := arbiter.TryAcquire(gpu.ClassLive)
	if !ok {
		t.Fatalf("TryAcquire(ClassLive) = false, want true")
	}

	mgr := NewManager()
	trainer := synth.NewMockTrainer()
	trainer.StepDelay = time.Millisecond
	runner := NewRunner(mgr, arbiter, trainer, nil)
	runner.Start(ctx)

	job, err := mgr.Submit(SubmitRequest{Kind: KindTraining, CharID: "hero", Mode: ModePrepare})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Lease is held by the live class; the job must stay running without
	// progressing until it is released.
	time.Sleep(50 * time.Millisecond)
	held, err := mgr.Get(job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if held.Terminal() {
		t.Fatalf("job finished while GPU lease was held: status=%s", held.Status)
	}
	if held.Progress != 0 {
		t.Fatalf("Progress = %v before GPU lease release, want 0", held.Progress)
	}

	release()
	waitForStatus(t, mgr, job.ID, StatusCompleted)
}

func TestRunnerCancelAbortsWaitingJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arbiter := gpu.NewArbiter(true)
	release, _ := arbiter.TryAcquire(gpu.ClassLive)
	defer release()

	mgr := NewManager()
	runner := NewRunner(mgr, arbiter, synth.NewMockTrainer(), nil)
	runner.Start(ctx)

	job, err := mgr.Submit(SubmitRequest{Kind: KindTraining, CharID: "hero", Mode: ModeFinetune})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Give the runner time to park in Acquire before cancelling.
	time.Sleep(20 * time.Millisecond)
	if _, err := mgr.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	waitForStatus(t, mgr, job.ID, StatusCancelled)
}
