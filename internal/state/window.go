package state

import "slices"

// window is a channel's recent messages, newest first, never longer than
// limit.
type window struct {
	limit    int
	messages []Message
}

func newWindow(limit int, messages []Message) *window {
	w := &window{limit: limit}
	for _, m := range messages {
		if len(w.messages) == limit {
			break
		}
		if w.index(m.ID) < 0 {
			w.messages = append(w.messages, m)
		}
	}
	return w
}

func (w *window) index(id string) int {
	return slices.IndexFunc(w.messages, func(m Message) bool { return m.ID == id })
}

// prepend inserts m as the newest message, evicting the oldest at capacity.
// A message already present is left alone.
func (w *window) prepend(m Message) bool {
	if w.index(m.ID) >= 0 {
		return false
	}
	w.messages = slices.Insert(w.messages, 0, m)
	if len(w.messages) > w.limit {
		w.messages[len(w.messages)-1] = Message{}
		w.messages = w.messages[:w.limit]
	}
	return true
}

func (w *window) remove(id string) bool {
	i := w.index(id)
	if i < 0 {
		return false
	}
	w.messages = slices.Delete(w.messages, i, i+1)
	return true
}

func (w *window) snapshot() []Message {
	return slices.Clone(w.messages)
}
