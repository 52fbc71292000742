// Package memstore keeps every repository in process memory. Transactions
// hold the store lock for their whole lifetime and roll back by restoring a
// snapshot, so the all-or-nothing behaviour matches the Postgres backend.
package memstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

var (
	_ user.Repository    = (*Store)(nil)
	_ catalog.Repository = (*Store)(nil)
	_ cart.Repository    = (*Store)(nil)
	_ order.Repository   = (*Store)(nil)
)

var ErrTxDone = errors.New("memstore: transaction already finished")

type state struct {
	users         map[uuid.UUID]user.Profile
	products      map[uuid.UUID]*catalog.Product
	carts         map[uuid.UUID]cart.Cart
	cartByUser    map[uuid.UUID]uuid.UUID
	items         map[uuid.UUID]cart.Item
	orders        map[uuid.UUID]*order.Order
	cancellations map[uuid.UUID]order.Cancellation
	movements     []stock.Movement
	seq           map[uuid.UUID]uint64
	nextSeq       uint64
}

func newState() state {
	return state{
		users:         make(map[uuid.UUID]user.Profile),
		products:      make(map[uuid.UUID]*catalog.Product),
		carts:         make(map[uuid.UUID]cart.Cart),
		cartByUser:    make(map[uuid.UUID]uuid.UUID),
		items:         make(map[uuid.UUID]cart.Item),
		orders:        make(map[uuid.UUID]*order.Order),
		cancellations: make(map[uuid.UUID]order.Cancellation),
		seq:           make(map[uuid.UUID]uint64),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = copyProduct(v)
	}
	for k, v := range s.carts {
		c.carts[k] = v
	}
	for k, v := range s.cartByUser {
		c.cartByUser[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.cancellations {
		c.cancellations[k] = v
	}
	c.movements = append([]stock.Movement(nil), s.movements...)
	for k, v := range s.seq {
		c.seq[k] = v
	}
	c.nextSeq = s.nextSeq
	return c
}

func (s *state) stamp(id uuid.UUID) {
	s.nextSeq++
	s.seq[id] = s.nextSeq
}

func copyProduct(p *catalog.Product) *catalog.Product {
	out := *p
	out.Variants = append([]catalog.Variant(nil), p.Variants...)
	if out.Variants == nil {
		out.Variants = make([]catalog.Variant, 0)
	}
	return &out
}

func copyOrder(o *order.Order) *order.Order {
	out := *o
	out.Lines = append(make([]order.Line, 0, len(o.Lines)), o.Lines...)
	return &out
}

// Store implements the user, catalog, cart and order repositories.
type Store struct {
	mu    sync.Mutex
	txs   chan struct{} // один открытый Tx на весь store
	state state
}

func New() *Store {
	return &Store{state: newState(), txs: make(chan struct{}, 1)}
}

func (s *Store) AddUser(p user.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[p.ID] = p
}

func (s *Store) AddProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range p.Variants {
		p.Variants[i].ProductID = p.ID
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.state.products[p.ID] = copyProduct(&p)
}

// Available returns the current level of a pool.
func (s *Store) Available(ref stock.PoolRef) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.available(ref)
}

// Movements returns the stock ledger in insertion order.
func (s *Store) Movements() []stock.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stock.Movement(nil), s.state.movements...)
}

func (s *state) available(ref stock.PoolRef) (decimal.Decimal, error) {
	p, ok := s.products[ref.ProductID]
	if !ok {
		return decimal.Zero, fmt.Errorf("memstore: %s: %w", ref, order.ErrPoolNotFound)
	}
	if !ref.IsVariant() {
		return p.StockQuantity, nil
	}
	v, ok := p.VariantByID(ref.VariantID)
	if !ok {
		return decimal.Zero, fmt.Errorf("memstore: %s: %w", ref, order.ErrPoolNotFound)
	}
	return v.StockQuantity, nil
}

func (s *state) setAvailable(ref stock.PoolRef, value decimal.Decimal) {
	p := s.products[ref.ProductID]
	p.UpdatedAt = time.Now().UTC()
	if !ref.IsVariant() {
		p.StockQuantity = value
		return
	}
	v, _ := p.VariantByID(ref.VariantID)
	v.StockQuantity = value
}

// user.Repository

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*user.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	return &p, nil
}

// catalog.Repository

func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	return copyProduct(p), nil
}

// cart.Repository

func (s *Store) GetOrCreateCart(_ context.Context, userID uuid.UUID) (*cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.state.cartByUser[userID]; ok {
		c := s.state.carts[id]
		return &c, nil
	}
	c := cart.Cart{ID: uuid.Must(uuid.NewV4()), UserID: userID, CreatedAt: time.Now().UTC()}
	s.state.carts[c.ID] = c
	s.state.cartByUser[userID] = c.ID
	return &c, nil
}

func (s *state) cartItems(cartID uuid.UUID) []cart.Item {
	items := make([]cart.Item, 0)
	for _, it := range s.items {
		if it.CartID == cartID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return s.seq[items[i].ID] < s.seq[items[j].ID]
	})
	return items
}

func (s *Store) ListItems(_ context.Context, cartID uuid.UUID) ([]cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.cartItems(cartID), nil
}

func (s *state) findItem(cartID, productID uuid.UUID, unitSize decimal.Decimal) (cart.Item, bool) {
	for _, it := range s.items {
		if it.CartID == cartID && it.ProductID == productID && it.UnitSize.Equal(unitSize) {
			return it, true
		}
	}
	return cart.Item{}, false
}

func (s *Store) FindItem(_ context.Context, cartID, productID uuid.UUID, unitSize decimal.Decimal) (*cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.state.findItem(cartID, productID, unitSize)
	if !ok {
		return nil, cart.ErrItemNotFound
	}
	return &it, nil
}

func (s *Store) GetItem(_ context.Context, cartID, itemID uuid.UUID) (*cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.state.items[itemID]
	if !ok || it.CartID != cartID {
		return nil, cart.ErrItemNotFound
	}
	return &it, nil
}

func (s *Store) AddItem(_ context.Context, cartID, productID uuid.UUID, unitSize, count decimal.Decimal) (*cart.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if it, ok := s.state.findItem(cartID, productID, unitSize); ok {
		it.Count = it.Count.Add(count)
		it.UpdatedAt = now
		s.state.items[it.ID] = it
		return &it, nil
	}
	it := cart.Item{
		ID:        uuid.Must(uuid.NewV4()),
		CartID:    cartID,
		ProductID: productID,
		UnitSize:  unitSize,
		Count:     count,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.state.items[it.ID] = it
	s.state.stamp(it.ID)
	return &it, nil
}

func (s *Store) SetItemCount(_ context.Context, itemID uuid.UUID, count decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.state.items[itemID]
	if !ok {
		return cart.ErrItemNotFound
	}
	it.Count = count
	it.UpdatedAt = time.Now().UTC()
	s.state.items[itemID] = it
	return nil
}

func (s *Store) DeleteItem(_ context.Context, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.items[itemID]; !ok {
		return cart.ErrItemNotFound
	}
	delete(s.state.items, itemID)
	return nil
}

func (s *state) clearCart(cartID uuid.UUID) {
	for id, it := range s.items {
		if it.CartID == cartID {
			delete(s.items, id)
		}
	}
}

func (s *Store) ClearItems(_ context.Context, cartID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.clearCart(cartID)
	return nil
}

// order.Repository

type memTx struct {
	store    *Store
	snapshot state
	done     bool
}

// BeginTx waits until no other transaction is open. The wait ends early with
// ctx.Err() when ctx is cancelled.
func (s *Store) BeginTx(ctx context.Context) (order.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case s.txs <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// Нетранзакционные вызовы держат mu недолго, ждём их без ctx.
	s.mu.Lock()
	return &memTx{store: s, snapshot: s.state.clone()}, nil
}

func (t *memTx) release() {
	t.done = true
	t.store.mu.Unlock()
	<-t.store.txs
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.release()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.store.state = t.snapshot
	t.release()
	return nil
}

func (s *Store) txState(tx order.Tx) (*state, error) {
	mt, ok := tx.(*memTx)
	if !ok || mt.store != s {
		return nil, errors.New("memstore: foreign transaction")
	}
	if mt.done {
		return nil, ErrTxDone
	}
	return &s.state, nil
}

func (s *Store) LockCart(_ context.Context, tx order.Tx, userID uuid.UUID) (uuid.UUID, []cart.Item, error) {
	st, err := s.txState(tx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	cartID, ok := st.cartByUser[userID]
	if !ok {
		return uuid.Nil, nil, nil
	}
	return cartID, st.cartItems(cartID), nil
}

func (s *Store) LockProducts(_ context.Context, tx order.Tx, ids []uuid.UUID) ([]catalog.Product, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}
	products := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			products = append(products, *copyProduct(p))
		}
	}
	sort.Slice(products, func(i, j int) bool {
		return bytes.Compare(products[i].ID.Bytes(), products[j].ID.Bytes()) < 0
	})
	return products, nil
}

func (s *Store) DeductStock(_ context.Context, tx order.Tx, ref stock.PoolRef, amount decimal.Decimal) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	available, err := st.available(ref)
	if err != nil {
		return err
	}
	pool := stock.NewPool(ref, available)
	if err := pool.Reserve(amount); err != nil {
		return err
	}
	st.setAvailable(ref, pool.Available)
	return nil
}

func (s *Store) RestoreStock(_ context.Context, tx order.Tx, ref stock.PoolRef, amount decimal.Decimal) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	available, err := st.available(ref)
	if err != nil {
		return err
	}
	pool := stock.NewPool(ref, available)
	if err := pool.Release(amount); err != nil {
		return err
	}
	st.setAvailable(ref, pool.Available)
	return nil
}

func (s *Store) RecordMovement(_ context.Context, tx order.Tx, m stock.Movement) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	st.movements = append(st.movements, m)
	return nil
}

func (s *Store) InsertOrder(_ context.Context, tx order.Tx, o *order.Order) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	if _, exists := st.orders[o.ID]; exists {
		return fmt.Errorf("memstore: order %s already exists", o.ID)
	}
	shell := *o
	shell.Lines = make([]order.Line, 0)
	st.orders[o.ID] = &shell
	st.stamp(o.ID)
	return nil
}

func (s *Store) InsertLine(_ context.Context, tx order.Tx, line *order.Line) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	o, ok := st.orders[line.OrderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Lines = append(o.Lines, *line)
	return nil
}

func (s *Store) ClearCart(_ context.Context, tx order.Tx, cartID uuid.UUID) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	st.clearCart(cartID)
	return nil
}

func (s *Store) GetOrderForUpdate(_ context.Context, tx order.Tx, orderID uuid.UUID) (*order.Order, error) {
	st, err := s.txState(tx)
	if err != nil {
		return nil, err
	}
	o, ok := st.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *Store) HasCancellation(_ context.Context, tx order.Tx, orderID uuid.UUID) (bool, error) {
	st, err := s.txState(tx)
	if err != nil {
		return false, err
	}
	_, ok := st.cancellations[orderID]
	return ok, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, tx order.Tx, orderID uuid.UUID, newStatus order.OrderStatus) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	o, ok := st.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreateCancellation(_ context.Context, tx order.Tx, c *order.Cancellation) error {
	st, err := s.txState(tx)
	if err != nil {
		return err
	}
	if _, exists := st.cancellations[c.OrderID]; exists {
		return order.ErrAlreadyCancelled
	}
	st.cancellations[c.OrderID] = *c
	return nil
}

func (s *Store) GetOrderByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *Store) GetOrdersByUserID(_ context.Context, userID uuid.UUID) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]order.Order, 0)
	for _, o := range s.state.orders {
		if o.UserID == userID {
			orders = append(orders, *copyOrder(o))
		}
	}
	// Newest first.
	sort.Slice(orders, func(i, j int) bool {
		return s.state.seq[orders[i].ID] > s.state.seq[orders[j].ID]
	})
	return orders, nil
}

// Cancellation returns the cancellation record of an order, if any.
func (s *Store) Cancellation(orderID uuid.UUID) (order.Cancellation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.cancellations[orderID]
	return c, ok
}
