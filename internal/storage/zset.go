package storage

import "github.com/google/btree"

// ZMember is a sorted set member together with its score
type ZMember struct {
	Member string
	Score  float64
}

// ScoreBound is one end of a score interval, as in ZCOUNT min max
type ScoreBound struct {
	Value     float64
	Exclusive bool
}

func (b ScoreBound) aboveMin(score float64) bool {
	if b.Exclusive {
		return score > b.Value
	}
	return score >= b.Value
}

func (b ScoreBound) belowMax(score float64) bool {
	if b.Exclusive {
		return score < b.Value
	}
	return score <= b.Value
}

// zLess orders by score, ties broken by member bytes
func zLess(a, b ZMember) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Member < b.Member
}

// ZSet keeps member scores in a map and the (score, member) order in a btree
type ZSet struct {
	dict map[string]float64
	tree *btree.BTreeG[ZMember]
}

func NewZSet() *ZSet {
	return &ZSet{
		dict: make(map[string]float64),
		tree: btree.NewG[ZMember](32, zLess),
	}
}

func (z *ZSet) Len() int {
	return len(z.dict)
}

// Add inserts member or updates its score. Returns true if member is new
func (z *ZSet) Add(member string, score float64) bool {
	old, exists := z.dict[member]
	if exists {
		if old == score {
			return false
		}
		z.tree.Delete(ZMember{Member: member, Score: old})
	}
	z.dict[member] = score
	z.tree.ReplaceOrInsert(ZMember{Member: member, Score: score})
	return !exists
}

func (z *ZSet) Score(member string) (float64, bool) {
	s, ok := z.dict[member]
	return s, ok
}

func (z *ZSet) Remove(member string) bool {
	score, ok := z.dict[member]
	if !ok {
		return false
	}
	delete(z.dict, member)
	z.tree.Delete(ZMember{Member: member, Score: score})
	return true
}

// Count returns the number of members with min <= score <= max
func (z *ZSet) Count(min, max ScoreBound) int {
	count := 0
	z.tree.AscendGreaterOrEqual(ZMember{Score: min.Value}, func(item ZMember) bool {
		if !max.belowMax(item.Score) {
			return false
		}
		if min.aboveMin(item.Score) {
			count++
		}
		return true
	})
	return count
}

// Rank returns the 0-based position of member in ascending order
func (z *ZSet) Rank(member string) (int, bool) {
	score, ok := z.dict[member]
	if !ok {
		return 0, false
	}

	rank := 0
	z.tree.AscendLessThan(ZMember{Member: member, Score: score}, func(ZMember) bool {
		rank++
		return true
	})
	return rank, true
}

// Range returns members by rank between start and stop inclusive, ZRANGE style
func (z *ZSet) Range(start, stop int) []ZMember {
	n := z.Len()
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []ZMember{}
	}

	out := make([]ZMember, 0, stop-start+1)
	i := 0
	z.tree.Ascend(func(item ZMember) bool {
		if i > stop {
			return false
		}
		if i >= start {
			out = append(out, item)
		}
		i++
		return true
	})
	return out
}

// Members returns every member in ascending order
func (z *ZSet) Members() []ZMember {
	return z.Range(0, -1)
}

func (z *ZSet) Clone() *ZSet {
	c := &ZSet{
		dict: make(map[string]float64, len(z.dict)),
		tree: z.tree.Clone(),
	}
	for m, s := range z.dict {
		c.dict[m] = s
	}
	return c
}
