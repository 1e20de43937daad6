package collab

import (
	"sort"
	"sync"
)

// Decoration is a peer cursor for an editor to render.
type Decoration struct {
	User   string
	Line   int
	Column int
	Label  string
}

// Peers tracks the last known cursor of every other participant in the room.
type Peers struct {
	mu  sync.Mutex
	pos map[string]Position
}

// NewPeers creates an empty set.
func NewPeers() *Peers {
	return &Peers{pos: make(map[string]Position)}
}

// Update records user's cursor.
func (p *Peers) Update(user string, pos Position) {
	p.mu.Lock()
	p.pos[user] = pos
	p.mu.Unlock()
}

// Remove forgets user and reports whether it was known.
func (p *Peers) Remove(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pos[user]; !ok {
		return false
	}
	delete(p.pos, user)
	return true
}

// Clear forgets everyone.
func (p *Peers) Clear() {
	p.mu.Lock()
	p.pos = make(map[string]Position)
	p.mu.Unlock()
}

// Decorations returns one decoration per peer, sorted by user.
func (p *Peers) Decorations() []Decoration {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Decoration, 0, len(p.pos))
	for user, pos := range p.pos {
		out = append(out, Decoration{
			User:   user,
			Line:   pos.LineNumber,
			Column: pos.Column,
			Label:  " " + user,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].User < out[j].User })
	return out
}
