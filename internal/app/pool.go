package app

import "trivia-bingo/internal/domain"

// PoolEntry is the pool's own copy of a question. Its resolution state is
// independent of any card copy.
type PoolEntry struct {
	Question domain.Question
	Resolved bool
}

// Pool is the de-duplicated global turn order. It is not safe for concurrent
// use; the engine owns it once a game starts.
type Pool struct {
	order  []*PoolEntry
	byID   map[string]*PoolEntry
	cursor int
}

// NewPool keeps the first occurrence of every question id, preserving order.
func NewPool(questions []domain.Question) *Pool {
	p := &Pool{byID: make(map[string]*PoolEntry, len(questions))}
	for _, q := range questions {
		if _, ok := p.byID[q.ID]; ok {
			continue
		}
		entry := &PoolEntry{Question: q}
		p.byID[q.ID] = entry
		p.order = append(p.order, entry)
	}
	return p
}

// Len is the number of unresolved entries.
func (p *Pool) Len() int { return len(p.order) }

func (p *Pool) Contains(questionID string) bool {
	e, ok := p.byID[questionID]
	return ok && !e.Resolved
}

// Remove resolves an entry. It reports false when the id was already gone.
func (p *Pool) Remove(questionID string) bool {
	e, ok := p.byID[questionID]
	if !ok || e.Resolved {
		return false
	}
	e.Resolved = true
	for i, cand := range p.order {
		if cand != e {
			continue
		}
		p.order = append(p.order[:i], p.order[i+1:]...)
		if i < p.cursor {
			p.cursor--
		}
		break
	}
	if p.cursor >= len(p.order) {
		p.cursor = 0
	}
	return true
}

// Next returns the next unresolved entry in turn order, wrapping around.
func (p *Pool) Next() (domain.Question, bool) {
	if len(p.order) == 0 {
		return domain.Question{}, false
	}
	if p.cursor >= len(p.order) {
		p.cursor = 0
	}
	e := p.order[p.cursor]
	p.cursor++
	return e.Question, true
}

// Questions returns the unresolved questions in turn order.
func (p *Pool) Questions() []domain.Question {
	out := make([]domain.Question, 0, len(p.order))
	for _, e := range p.order {
		out = append(out, e.Question)
	}
	return out
}
