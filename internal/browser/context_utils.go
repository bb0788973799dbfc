// File: internal/browser/context_utils.go
package browser

import "context"

// CombineContext returns a context that is canceled as soon as either parent
// is done. chromedp actions must respect both the session lifetime and the
// caller's per-operation context, so every session operation runs under a
// combined context.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	// Derive from ctx1 to inherit its values (the CDP target lives there).
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
