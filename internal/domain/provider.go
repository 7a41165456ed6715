package domain

// Matcher turns raw message text into zero or more content units.
// Matching must be free of side effects.
type Matcher interface {
	Match(text string) (MatchResult, error)
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(text string) (MatchResult, error)

func (f MatcherFunc) Match(text string) (MatchResult, error) { return f(text) }

// Provider is a named matcher. Name is a display label, not a key; two
// providers may share one. An exclusive provider that produces output stops
// every provider registered after it for that message.
type Provider struct {
	Name      string
	Exclusive bool
	Matcher   Matcher
}

// DefaultProviderName is used when a provider is registered without a name.
const DefaultProviderName = "additional content"
