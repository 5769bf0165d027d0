// Package cart keeps each user's shopping cart, persisted as one JSON document.
package cart

import (
	"errors"
	"fmt"
	"sync"

	"voice-commerce-service/internal/store/jsonfile"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrItemNotFound    = errors.New("item not in cart")
)

// Item is one cart line. ID is the catalog product id.
type Item struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Image    string  `json:"image"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// Cart is a snapshot of a user's cart.
type Cart struct {
	Items []Item  `json:"items"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

func newCart(items []Item) Cart {
	c := Cart{Items: append([]Item{}, items...)}
	for _, it := range items {
		c.Count += it.Quantity
		c.Total += it.Price * float64(it.Quantity)
	}
	return c
}

// Store holds carts keyed by user id. With an empty path it is memory-only.
type Store struct {
	mu    sync.Mutex
	path  string
	carts map[string][]Item
}

// Open loads the carts document at path, creating it on first write.
func Open(path string) (*Store, error) {
	s := &Store{path: path, carts: make(map[string][]Item)}
	if path == "" {
		return s, nil
	}
	if _, err := jsonfile.Load(path, &s.carts); err != nil {
		return nil, fmt.Errorf("open cart store: %w", err)
	}
	if s.carts == nil {
		s.carts = make(map[string][]Item)
	}
	return s, nil
}

// AddItem adds item.Quantity units, increasing the quantity when the product
// is already in the cart. It returns the resulting line and cart count.
func (s *Store) AddItem(userID string, item Item) (Item, int, error) {
	if item.Quantity < 1 {
		return Item{}, 0, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := clone(s.carts[userID])
	idx := indexOf(items, item.ID)
	if idx >= 0 {
		items[idx].Quantity += item.Quantity
	} else {
		items = append(items, item)
		idx = len(items) - 1
	}

	if err := s.commit(userID, items); err != nil {
		return Item{}, 0, err
	}
	return items[idx], count(items), nil
}

// UpdateQuantity changes a line by delta. The line is removed when its
// quantity would drop below 1; the returned bool reports whether it remains.
func (s *Store) UpdateQuantity(userID string, productID, delta int) (Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := clone(s.carts[userID])
	idx := indexOf(items, productID)
	if idx < 0 {
		return Item{}, false, ErrItemNotFound
	}

	items[idx].Quantity += delta
	if items[idx].Quantity < 1 {
		removed := items[idx]
		removed.Quantity = 0
		return removed, false, s.commit(userID, append(items[:idx], items[idx+1:]...))
	}
	return items[idx], true, s.commit(userID, items)
}

// Remove deletes a line from the cart.
func (s *Store) Remove(userID string, productID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[userID]
	idx := indexOf(items, productID)
	if idx < 0 {
		return ErrItemNotFound
	}
	items = clone(items)
	return s.commit(userID, append(items[:idx], items[idx+1:]...))
}

// Get returns a copy of the user's cart. Unknown users have an empty cart.
func (s *Store) Get(userID string) Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newCart(s.carts[userID])
}

// Count returns the number of units in the user's cart.
func (s *Store) Count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return count(s.carts[userID])
}

// Clear empties the user's cart.
func (s *Store) Clear(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[userID]; !ok {
		return nil
	}
	return s.commit(userID, nil)
}

// commit replaces the user's lines and saves. When the save fails the
// previous lines are put back, so memory never runs ahead of the file.
// items must not share a backing array with the stored lines. nil deletes
// the cart. mu must be held.
func (s *Store) commit(userID string, items []Item) error {
	prev, had := s.carts[userID]
	if items == nil {
		delete(s.carts, userID)
	} else {
		s.carts[userID] = items
	}
	if err := s.save(); err != nil {
		if had {
			s.carts[userID] = prev
		} else {
			delete(s.carts, userID)
		}
		return err
	}
	return nil
}

// save must be called with mu held.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	if err := jsonfile.Save(s.path, s.carts); err != nil {
		return fmt.Errorf("save carts: %w", err)
	}
	return nil
}

func clone(items []Item) []Item {
	return append([]Item(nil), items...)
}

func indexOf(items []Item, productID int) int {
	for i, it := range items {
		if it.ID == productID {
			return i
		}
	}
	return -1
}

func count(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Quantity
	}
	return n
}
