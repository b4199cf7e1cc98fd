package dispatch

import "github.com/plue-git/plue/internal/model"

// priorityQueue is a FIFO-within-tier queue of job ids, grounded on
// boskos/ranch/priority.go's requestQueue: an ordered id list plus a map
// for O(1) membership/removal.
type priorityQueue struct {
	order []string
	set   map[string]bool
}

func newPriorityQueue() *priorityQueue {
	return &priorityQueue{set: map[string]bool{}}
}

func (q *priorityQueue) push(id string) {
	if q.set[id] {
		return
	}
	q.set[id] = true
	q.order = append(q.order, id)
}

func (q *priorityQueue) remove(id string) {
	if !q.set[id] {
		return
	}
	delete(q.set, id)
	for i, existing := range q.order {
		if existing == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *priorityQueue) ids() []string {
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}

func (q *priorityQueue) len() int { return len(q.order) }

// queueSet holds one priorityQueue per §4.4 priority tier.
type queueSet struct {
	tiers map[model.Priority]*priorityQueue
}

func newQueueSet() *queueSet {
	qs := &queueSet{tiers: map[model.Priority]*priorityQueue{}}
	for _, p := range model.PriorityOrder {
		qs.tiers[p] = newPriorityQueue()
	}
	return qs
}

func (qs *queueSet) push(priority model.Priority, id string) {
	qs.tiers[priority].push(id)
}

func (qs *queueSet) remove(priority model.Priority, id string) {
	qs.tiers[priority].remove(id)
}

// scanOrder yields job ids in §4.4 priority order: critical, high, normal,
// low, FIFO within each tier.
func (qs *queueSet) scanOrder() []string {
	var out []string
	for _, p := range model.PriorityOrder {
		out = append(out, qs.tiers[p].ids()...)
	}
	return out
}

func (qs *queueSet) depth(priority model.Priority) int {
	return qs.tiers[priority].len()
}
