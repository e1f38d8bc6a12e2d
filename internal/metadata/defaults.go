package metadata

// NewDefaultRegistry registers the built-in extractors.
func NewDefaultRegistry(ffprobePath string) *Registry {
	r := NewRegistry()
	mustRegister(r,
		NewResourceExtractor(),
		NewAudioExtractor(),
		NewVideoExtractor(ffprobePath),
		NewImageExtractor(),
	)
	return r
}

// mustRegister panics when an extractor cannot be registered, which only
// happens when two built-ins share an id.
func mustRegister(r *Registry, extractors ...Extractor) {
	for _, e := range extractors {
		if err := r.Register(e); err != nil {
			panic(err)
		}
	}
}
