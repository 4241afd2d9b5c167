package querysync

// FocusSource notifies engines when the application regains user attention,
// typically a window focus or tab visibility event surfaced by the UI shell.
// Implementations invoke every registered callback once per focus event.
type FocusSource interface {
	// OnFocus registers fn for focus events. The returned func removes the
	// registration.
	OnFocus(fn func()) (unsubscribe func())
}
