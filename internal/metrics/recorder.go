// Package metrics exposes build and workspace counters. Components take a
// Recorder and default to NoopRecorder, so metrics stay optional.
package metrics

import "time"

// BuildOutcome labels the end of a build run.
type BuildOutcome string

const (
	OutcomeSuccess  BuildOutcome = "success"
	OutcomeFailed   BuildOutcome = "failed"
	OutcomeTimeout  BuildOutcome = "timeout"
	OutcomeCanceled BuildOutcome = "canceled"
)

type Recorder interface {
	IncWorkspacesCreated(success bool)
	IncFileWrites(n int)
	IncBuildsStarted()
	IncBuildOutcome(outcome BuildOutcome)
	ObserveStepDuration(step string, d time.Duration)
	ObserveBuildDuration(d time.Duration)
	AddActiveBuilds(delta int)
}

type NoopRecorder struct{}

func (NoopRecorder) IncWorkspacesCreated(bool)                 {}
func (NoopRecorder) IncFileWrites(int)                         {}
func (NoopRecorder) IncBuildsStarted()                         {}
func (NoopRecorder) IncBuildOutcome(BuildOutcome)              {}
func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) ObserveBuildDuration(time.Duration)        {}
func (NoopRecorder) AddActiveBuilds(int)                       {}

// OutcomeForExit maps a build exit code to an outcome label.
func OutcomeForExit(code int) BuildOutcome {
	if code == 0 {
		return OutcomeSuccess
	}
	return OutcomeFailed
}
