package cadence

// lifetimeToken is a lifetime-scoped safety token: every deferred task
// a ZeroHertz mode posts captures its mode's token, and the task body
// becomes a no-op once that mode is closed. Tasks the Dispatcher posts
// carry no token and run whenever the queue runs them. This is orthogonal
// to zero-hertz's generation-id check (zerohertz.go) — the token
// guards against a destroyed *component*, the generation id guards
// against a *superseded frame* on a live one.
//
// All access happens on the worker, so a plain bool suffices; nothing
// here needs to be an atomic.
type lifetimeToken struct {
	alive bool
}

func newLifetimeToken() *lifetimeToken {
	return &lifetimeToken{alive: true}
}

// invalidate is called once, when the owning mode is closed.
func (t *lifetimeToken) invalidate() {
	t.alive = false
}

// guard wraps task so it is skipped if the token was invalidated
// between posting and firing.
func (t *lifetimeToken) guard(task func()) func() {
	return func() {
		if !t.alive {
			return
		}
		task()
	}
}
