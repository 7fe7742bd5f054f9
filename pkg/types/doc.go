/*
Package types provides the core interfaces and data structures shared by the
image loader components.

# Request keys

Every image is identified by a RequestKey derived from its URL with
KeyFromURL. The key is used unchanged by the memory tier, as the file name in
the disk tier, and as the de-duplication key for in-flight fetches:

	key, err := types.KeyFromURL("https://example.com/cat.png?w=64")
	// key == "https%3A%2F%2Fexample%2Ecom%2Fcat%2Epng%3Fw%3D64"

# Collaborators

The loader depends on a handful of small interfaces:

  - Fetcher retrieves raw bytes for a URL within a timeout.
  - Decoder probes dimensions and decodes bytes with a subsample factor.
  - Target receives images or placeholders for display.
  - Dispatcher runs delivery callbacks on the context that owns the targets.
  - Notifier observes successful deliveries.

Function adapters (DispatcherFunc, NotifierFunc) are provided for the two
single-method interfaces that are most often implemented inline.
*/
package types
