package engine

import (
	"context"

	"github.com/rclonehub/rclonehub/internal/verify"
)

// StrictVerifier adapts internal/verify's free function to the engine's
// Verifier interface, over any driver.Adapter-shaped Lister.
type StrictVerifier struct {
	Lister verify.Lister
}

func (v StrictVerifier) Verify(ctx context.Context, source, destination string) VerifyResult {
	res := verify.Verify(ctx, v.Lister, source, destination)
	return VerifyResult{Passed: res.Passed, Reason: res.Reason}
}
