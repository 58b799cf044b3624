package decision

import (
	"context"
	"log"
)

// Failsafe wraps a provider with a fallback so a verdict is always
// produced. Errors from the primary are logged and swallowed.
type Failsafe struct {
	primary  Provider
	fallback Provider
}

func NewFailsafe(primary, fallback Provider) *Failsafe {
	return &Failsafe{primary: primary, fallback: fallback}
}

func (f *Failsafe) Name() string { return f.primary.Name() }

func (f *Failsafe) Generate(ctx context.Context, in Input) (Verdict, error) {
	v, err := f.primary.Generate(ctx, in)
	if err == nil {
		return v, nil
	}
	log.Printf("Warning: provider %s failed, using fallback: %v", f.primary.Name(), err)
	return f.fallback.Generate(ctx, in)
}
