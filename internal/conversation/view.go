package conversation

// View is the read-only face of a Store handed to scripts as `conversation`.
// Every method returns a copy; nothing reachable through a View mutates the store.
type View struct {
	store *Store
}

// NewView wraps s.
func NewView(s *Store) *View {
	return &View{store: s}
}

func (v *View) Messages() []Message { return v.store.Messages() }
func (v *View) Facts() []Fact { return v.store.Facts() }
func (v *View) Entities() map[string]int { return v.store.Entities() }
func (v *View) Topics() map[string]int { return v.store.Topics() }
func (v *View) Timeline() []TimelineEntry { return v.store.Timeline() }
func (v *View) Metadata() Metadata { return v.store.Metadata(10) }
func (v *View) Len() int { return v.store.Len() }
func (v *View) Slice(start, end int) []Message { return v.store.Slice(start, end) }
