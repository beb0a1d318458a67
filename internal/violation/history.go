package violation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxHistory is the number of recent incidents retained per author.
const MaxHistory = 5

// Incident records one moderated message.
type Incident struct {
	ID       uuid.UUID `json:"id"`
	Author   string    `json:"author"`
	Pattern  string    `json:"pattern"`
	Message  string    `json:"message"`
	Count    int       `json:"count"`
	Stage    int       `json:"stage"`
	Commands []string  `json:"commands,omitempty"`
	At       time.Time `json:"at"`
}

// History stores the last MaxHistory incidents per author in memory.
// It is goroutine-safe and uses a ring buffer per author.
type History struct {
	mu      sync.RWMutex
	authors map[string]*ring
}

type ring struct {
	items [MaxHistory]Incident
	pos   int
	count int
}

func NewHistory() *History {
	return &History{authors: make(map[string]*ring)}
}

// Add appends an incident, overwriting the author's oldest one when full.
func (h *History) Add(inc Incident) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.authors[inc.Author]
	if !ok {
		r = &ring{}
		h.authors[inc.Author] = r
	}
	r.items[r.pos] = inc
	r.pos = (r.pos + 1) % MaxHistory
	if r.count < MaxHistory {
		r.count++
	}
}

// Get returns the author's incidents oldest first. The result is never nil.
func (h *History) Get(author string) []Incident {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.authors[author]
	if !ok {
		return []Incident{}
	}
	out := make([]Incident, r.count)
	start := (r.pos - r.count + MaxHistory) % MaxHistory
	for i := 0; i < r.count; i++ {
		out[i] = r.items[(start+i)%MaxHistory]
	}
	return out
}

// Remove forgets one author's incidents.
func (h *History) Remove(author string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.authors, author)
}

// Clear forgets every incident.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.authors)
}
