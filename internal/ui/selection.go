package ui

// Selection is an ordered set of chosen ids. It is a value: Toggle returns
// a new Selection and leaves the receiver untouched.
type Selection struct {
	ids []string
}

func NewSelection(ids ...string) Selection {
	s := Selection{}
	for _, id := range ids {
		if !s.Has(id) {
			s.ids = append(s.ids, id)
		}
	}
	return s
}

// Toggle adds id if absent and removes it otherwise.
func (s Selection) Toggle(id string) Selection {
	out := make([]string, 0, len(s.ids)+1)
	found := false
	for _, existing := range s.ids {
		if existing == id {
			found = true
			continue
		}
		out = append(out, existing)
	}
	if !found {
		out = append(out, id)
	}
	return Selection{ids: out}
}

func (s Selection) Has(id string) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

// IDs returns the chosen ids in the order they were picked.
func (s Selection) IDs() []string {
	return append([]string(nil), s.ids...)
}

func (s Selection) Len() int {
	return len(s.ids)
}
