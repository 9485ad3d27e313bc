package plugin

// Source discovers plugins. The manager consults its sources on reload and
// when auto-loading a missing dependency.
type Source interface {
	// Discover returns the plugins the source currently provides.
	Discover() ([]Plugin, error)
}

// StaticSource serves a fixed, compiled-in plugin set.
type StaticSource struct {
	plugins []Plugin
}

// NewStaticSource creates a source over the given plugins.
func NewStaticSource(plugins ...Plugin) *StaticSource {
	return &StaticSource{plugins: plugins}
}

// Discover implements Source.
func (s *StaticSource) Discover() ([]Plugin, error) {
	out := make([]Plugin, len(s.plugins))
	copy(out, s.plugins)
	return out, nil
}
