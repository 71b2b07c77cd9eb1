package engine

import (
	"github.com/google/btree"

	"github.com/efreitasn/matchingengine/internal/domain"
)

// priceLevel holds the resting orders at one exact price in arrival order,
// plus their aggregate remaining quantity.
type priceLevel struct {
	price  int64
	orders []*domain.Order
	volume int64
}

func (l *priceLevel) push(o *domain.Order) {
	l.orders = append(l.orders, o)
	l.volume += o.Remaining
}

// front returns the oldest resting order. The level must not be empty.
func (l *priceLevel) front() *domain.Order {
	return l.orders[0]
}

// popFront drops the oldest order. Its remaining quantity must already be
// accounted for in volume.
func (l *priceLevel) popFront() {
	l.orders[0] = nil
	l.orders = l.orders[1:]
}

// remove deletes the order with the given id, keeping the relative order of
// its siblings. It reports whether the order was found.
func (l *priceLevel) remove(orderID string) bool {
	for i, o := range l.orders {
		if o.ID != orderID {
			continue
		}
		l.volume -= o.Remaining
		copy(l.orders[i:], l.orders[i+1:])
		l.orders[len(l.orders)-1] = nil
		l.orders = l.orders[:len(l.orders)-1]
		return true
	}
	return false
}

func (l *priceLevel) empty() bool {
	return len(l.orders) == 0
}

// ladder is one side of a book: price levels kept in priority order in a
// B-tree, so the best level is always Min().
type ladder struct {
	tree *btree.BTreeG[*priceLevel]
}

// bidLess orders bids by price descending, so Min() is the highest bid.
func bidLess(a, b *priceLevel) bool {
	return a.price > b.price
}

// askLess orders asks by price ascending, so Min() is the lowest ask.
func askLess(a, b *priceLevel) bool {
	return a.price < b.price
}

func newLadder(side domain.Side) *ladder {
	const degree = 32
	less := askLess
	if side == domain.SideBuy {
		less = bidLess
	}
	return &ladder{tree: btree.NewG[*priceLevel](degree, less)}
}

// best returns the highest-priority level.
func (ld *ladder) best() (*priceLevel, bool) {
	return ld.tree.Min()
}

func (ld *ladder) get(price int64) (*priceLevel, bool) {
	return ld.tree.Get(&priceLevel{price: price})
}

// levelFor returns the level at price, creating it if absent.
func (ld *ladder) levelFor(price int64) *priceLevel {
	if lvl, ok := ld.get(price); ok {
		return lvl
	}
	lvl := &priceLevel{price: price}
	ld.tree.ReplaceOrInsert(lvl)
	return lvl
}

func (ld *ladder) delete(lvl *priceLevel) {
	ld.tree.Delete(lvl)
}

// walk visits levels best-first until fn returns false.
func (ld *ladder) walk(fn func(*priceLevel) bool) {
	ld.tree.Ascend(fn)
}

// levels returns the number of price levels.
func (ld *ladder) levels() int {
	return ld.tree.Len()
}
