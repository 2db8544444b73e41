package linking

// Provider identifies a third-party identity service a subject can link.
type Provider struct {
	ID   string
	Name string
}

// DefaultProviders returns the provider set tracked on the socials
// screen, in display order.
func DefaultProviders() []Provider {
	return []Provider{
		{ID: "github", Name: "GitHub"},
		{ID: "linkedin", Name: "LinkedIn"},
		{ID: "twitter", Name: "Twitter"},
		{ID: "instagram", Name: "Instagram"},
	}
}
