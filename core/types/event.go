package types

// Event represents a typed record emitted by an engine when durable state
// changes. Attributes carry the canonical string rendering of the change.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attribute returns the named attribute value, or the empty string when the
// attribute is absent.
func (e *Event) Attribute(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
