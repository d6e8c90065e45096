// Package mtag models the IRCv3 message tags attached to an in-flight message.
//
// A List is owned by the host for the lifetime of one message event. Code that
// receives a *List may mutate it during the call it was handed in and must not
// keep the pointer afterwards.
package mtag

// ToxicityTag is the tag this module writes on channel messages.
const ToxicityTag = "taforever.com/toxicity"

type MessageTag struct {
	Name  string
	Value string
}

type List struct {
	tags []*MessageTag
}

// NewList returns a list holding the given tags in order.
func NewList(tags ...MessageTag) *List {
	l := &List{tags: make([]*MessageTag, 0, len(tags)+1)}
	for _, t := range tags {
		l.tags = append(l.tags, &MessageTag{Name: t.Name, Value: t.Value})
	}
	return l
}

// Find returns the first tag with name, or nil.
func (l *List) Find(name string) *MessageTag {
	if l == nil {
		return nil
	}
	for _, t := range l.tags {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Set overwrites the value of an existing tag or appends a new one. It reports
// whether a new tag was inserted. Setting on a nil list does nothing.
func (l *List) Set(name, value string) bool {
	if l == nil {
		return false
	}
	if t := l.Find(name); t != nil {
		t.Value = value
		return false
	}
	l.tags = append(l.tags, &MessageTag{Name: name, Value: value})
	return true
}

func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.tags)
}

// Tags returns a copy of the tags in order.
func (l *List) Tags() []MessageTag {
	if l == nil {
		return nil
	}
	out := make([]MessageTag, len(l.tags))
	for i, t := range l.tags {
		out[i] = *t
	}
	return out
}

// Handler describes a tag kind the host should accept and relay.
type Handler struct {
	Name string
	// NoCapNeeded relays the tag to every client, even those that did not
	// negotiate a capability for it.
	NoCapNeeded bool
}
