package decision

import (
	"context"
	"time"
)

// FallbackNotifyFloor is the idle duration above which the fallback
// recommends notifying.
const FallbackNotifyFloor = 300 * time.Second

// Fallback is the deterministic, I/O-free provider of last resort.
// Same input, same verdict, every time.
type Fallback struct{}

func NewFallback() Fallback { return Fallback{} }

func (Fallback) Name() string { return "fallback" }

func (Fallback) Generate(ctx context.Context, in Input) (Verdict, error) {
	var message string
	switch {
	case in.IdleSeconds > 1800:
		message = "You have been away for over half an hour. Pick one small task and ease back in."
	case in.IdleSeconds > 900:
		message = "That was a long break. Time to get your focus back."
	default:
		message = "Welcome back. Pick up where you left off."
	}
	return Verdict{
		Type:         VerdictGetFocusBack,
		ShouldNotify: in.IdleSeconds > int64(FallbackNotifyFloor.Seconds()),
		Message:      message,
		Confidence:   0.5,
		Reasoning:    "deterministic fallback from idle duration bands",
	}, nil
}
