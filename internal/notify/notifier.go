package notify

import "context"

// Notifier is the asynchronous fallback used when a ring cannot reach any
// live connection. Strictly fire-and-forget: implementations swallow their
// own failures and callers never branch on the outcome.
type Notifier interface {
	NotifyUnreachable(ctx context.Context, targetIdentity, text string)
}
