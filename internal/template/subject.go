package template

// Subject reconciles the caller-supplied default subject with the subject
// set by templates during one render.
type Subject struct {
	def     string
	current string
}

// NewSubject returns a resolver with the given default, which may be empty.
func NewSubject(def string) *Subject {
	return &Subject{def: def}
}

// Set overrides the subject unconditionally.
func (s *Subject) Set(v string) {
	s.current = v
}

// SetDefault sets the subject only when neither a template nor the caller
// has provided one, and returns the subject now in effect.
func (s *Subject) SetDefault(v string) string {
	if s.current == "" && s.def == "" {
		s.current = v
	}
	return s.String()
}

// String returns the effective subject or an empty string.
func (s *Subject) String() string {
	if s.current != "" {
		return s.current
	}
	return s.def
}

// Value returns the effective subject and whether one is present.
func (s *Subject) Value() (string, bool) {
	v := s.String()
	return v, v != ""
}
