package resilience

import (
	"context"

	"github.com/MrWong99/voxscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across several STT
// backends, each behind its own circuit breaker.
//
// StartStream only fails over when opening the stream fails; errors that a
// session reports later through Err cannot be retried because the audio is
// already gone. Callers that hold the complete recording use [STTFallback.Run]
// instead, which replays it against the next backend.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in failover order.
func (f *STTFallback) Names() []string {
	return f.group.Names()
}

// StartStream opens a session against the first healthy provider.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Run calls fn with each healthy provider in turn until fn succeeds. fn should
// perform a complete transcription, including reading Err after the finals
// channel closes, so that late failures count against the breaker too.
func (f *STTFallback) Run(fn func(p stt.Provider) error) error {
	return f.group.Execute(fn)
}
