package evo

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Member pairs an entity with its last computed fitness.
type Member struct {
	Entity  Entity
	Fitness float64
}

// Population maps entity handles to fitness. Iteration follows insertion
// order, which keeps seeded runs reproducible.
type Population struct {
	order  []Entity
	scores map[Entity]float64
}

func NewPopulation(capacity int) *Population {
	return &Population{
		order:  make([]Entity, 0, capacity),
		scores: make(map[Entity]float64, capacity),
	}
}

// PopulationOf builds a population with every entity scored 0.
func PopulationOf(entities ...Entity) *Population {
	pop := NewPopulation(len(entities))
	for _, e := range entities {
		pop.Set(e, 0)
	}
	return pop
}

// Set inserts e or overwrites its score. Re-setting keeps the original position.
func (p *Population) Set(e Entity, fitness float64) {
	if _, ok := p.scores[e]; !ok {
		p.order = append(p.order, e)
	}
	p.scores[e] = fitness
}

func (p *Population) Fitness(e Entity) (float64, bool) {
	f, ok := p.scores[e]
	return f, ok
}

func (p *Population) Contains(e Entity) bool {
	_, ok := p.scores[e]
	return ok
}

func (p *Population) Len() int {
	if p == nil {
		return 0
	}
	return len(p.order)
}

// Entities returns the keys in insertion order.
func (p *Population) Entities() []Entity {
	out := make([]Entity, len(p.order))
	copy(out, p.order)
	return out
}

func (p *Population) Members() []Member {
	out := make([]Member, len(p.order))
	for i, e := range p.order {
		out[i] = Member{Entity: e, Fitness: p.scores[e]}
	}
	return out
}

func (p *Population) Scores() []float64 {
	out := make([]float64, len(p.order))
	for i, e := range p.order {
		out[i] = p.scores[e]
	}
	return out
}

// Ranked returns members by descending fitness; equal scores keep insertion order.
func (p *Population) Ranked() []Member {
	members := p.Members()
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].Fitness > members[j].Fitness
	})
	return members
}

// Best returns the highest scoring member, the first inserted on ties.
func (p *Population) Best() (Member, bool) {
	if p.Len() == 0 {
		return Member{}, false
	}
	best := Member{Entity: p.order[0], Fitness: p.scores[p.order[0]]}
	for _, e := range p.order[1:] {
		if f := p.scores[e]; f > best.Fitness {
			best = Member{Entity: e, Fitness: f}
		}
	}
	return best, true
}

func (p *Population) MeanFitness() float64 {
	if p.Len() == 0 {
		return 0
	}
	return stat.Mean(p.Scores(), nil)
}

// Clone copies the mapping; entities are shared, not deep-copied.
func (p *Population) Clone() *Population {
	out := NewPopulation(p.Len())
	for _, e := range p.order {
		out.Set(e, p.scores[e])
	}
	return out
}
