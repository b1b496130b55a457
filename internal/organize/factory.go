package organize

// HandlerFactory is a function that creates a Handler
// This allows for dependency injection in tests
type HandlerFactory func(target WatchTarget, opts ...Option) Handler

// Default factory that creates a real engine
var DefaultHandlerFactory HandlerFactory = func(target WatchTarget, opts ...Option) Handler {
	return New(target, opts...)
}

// CurrentHandlerFactory is the currently active factory
// This can be swapped in tests
var CurrentHandlerFactory = DefaultHandlerFactory

// SetHandlerFactory sets a custom handler factory for dependency injection
func SetHandlerFactory(factory HandlerFactory) {
	CurrentHandlerFactory = factory
}

// ResetHandlerFactory resets to the default handler factory
func ResetHandlerFactory() {
	CurrentHandlerFactory = DefaultHandlerFactory
}
