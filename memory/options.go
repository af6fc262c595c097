package memory

// SaveOption customizes a save.
type SaveOption func(*saveOptions)

type saveOptions struct {
	description        string
	additionalMetadata string
}

// WithDescription attaches a free-form description. It is not embedded.
func WithDescription(description string) SaveOption {
	return func(o *saveOptions) {
		o.description = description
	}
}

// WithAdditionalMetadata attaches free-form metadata. It is not embedded.
func WithAdditionalMetadata(metadata string) SaveOption {
	return func(o *saveOptions) {
		o.additionalMetadata = metadata
	}
}

func newSaveOptions(opts []SaveOption) saveOptions {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SearchOption customizes a search. Omitted options fall back to the
// engine's Config.
type SearchOption func(*searchOptions)

type searchOptions struct {
	limit          int
	minRelevance   float64
	withEmbeddings bool
}

// WithLimit caps the number of results. A limit <= 0 yields no results.
func WithLimit(limit int) SearchOption {
	return func(o *searchOptions) {
		o.limit = limit
	}
}

// WithMinRelevance drops results scoring below score.
func WithMinRelevance(score float64) SearchOption {
	return func(o *searchOptions) {
		o.minRelevance = score
	}
}

// WithEmbeddings includes stored embeddings in the results.
func WithEmbeddings(include bool) SearchOption {
	return func(o *searchOptions) {
		o.withEmbeddings = include
	}
}
