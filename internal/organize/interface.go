package organize

// Handler defines the interface for handling file events against a rule list.
// This allows for dependency injection in the daemon and CLI tests.
type Handler interface {
	// Handle runs the first matching rule for the event
	Handle(event FileEvent, rules []Rule) Outcome

	// Target returns the watch target destinations resolve against
	Target() WatchTarget

	// IsDryRun returns whether operations are only simulated
	IsDryRun() bool
}

// Ensure Engine implements the Handler interface
var _ Handler = (*Engine)(nil)
