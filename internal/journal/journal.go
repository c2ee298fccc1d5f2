// Package journal is the persistence collaborator of the exchange: an
// append-only audit log of orders, fills, and user state changes.
//
// Each completed request (a placement, a cancel, or one bot action)
// commits exactly one Batch, written as a single JSON line to
// journal.jsonl. Alongside the log, users.json holds the latest snapshot
// of every affected user and is rewritten atomically (write to .tmp, then
// rename) so a crash never leaves it in a partial state. The exchange
// reads users.json once at startup and never touches the journal during
// trading; the in-memory state is authoritative.
//
// All operations are mutex-protected; a Batch is one transaction.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marketsim/pkg/types"
)

// OrderRecord is the persisted shape of an order's current fill state.
type OrderRecord struct {
	OrderID          string            `json:"order_id"`
	UserID           string            `json:"user_id"`
	Ticker           string            `json:"ticker"`
	Side             types.Side        `json:"side"`
	Price            string            `json:"price"`
	OriginalQuantity int64             `json:"original_quantity"`
	FilledQuantity   int64             `json:"filled_quantity"`
	Status           types.OrderStatus `json:"status"`
	TIF              types.TimeInForce `json:"tif"`
	CreatedAt        int64             `json:"created_at"`
}

// RecordOrder converts an order to its persisted form.
func RecordOrder(o *types.Order) OrderRecord {
	return OrderRecord{
		OrderID:          o.ID,
		UserID:           o.UserID,
		Ticker:           o.Ticker,
		Side:             o.Side,
		Price:            o.Price.String(),
		OriginalQuantity: o.OriginalQuantity,
		FilledQuantity:   o.FilledQuantity(),
		Status:           o.Status,
		TIF:              o.TIF,
		CreatedAt:        o.CreatedAt,
	}
}

// Batch is everything one request changed. Committed as a single line.
type Batch struct {
	Seq           int64         `json:"seq"`
	CommittedAt   time.Time     `json:"committed_at"`
	Kind          string        `json:"kind"` // "place", "cancel", "register"
	Order         *OrderRecord  `json:"order,omitempty"`
	Trades        []types.Trade `json:"trades,omitempty"`
	OrdersUpdated []OrderRecord `json:"orders_updated,omitempty"`
	Users         []*types.User `json:"users,omitempty"`
}

// Journal writes batches to an append-only log and maintains the user
// snapshot.
type Journal struct {
	mu        sync.Mutex
	dir       string
	log       *os.File
	w         *bufio.Writer
	users     map[string]*types.User
	seq       int64
	syncEvery bool
}

// Open creates (or reopens) a journal backed by dir.
func Open(dir string, syncEveryCommit bool) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	logPath := filepath.Join(dir, "journal.jsonl")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal log: %w", err)
	}

	j := &Journal{
		dir:       dir,
		log:       f,
		w:         bufio.NewWriter(f),
		users:     make(map[string]*types.User),
		syncEvery: syncEveryCommit,
	}
	if err := j.loadUsers(); err != nil {
		f.Close()
		return nil, err
	}
	return j, nil
}

// Close flushes and closes the log.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.w.Flush(); err != nil {
		j.log.Close()
		return fmt.Errorf("flush journal: %w", err)
	}
	return j.log.Close()
}

// Commit appends one batch to the log and folds its user snapshots into
// users.json. The batch is stamped with the next commit sequence number.
func (j *Journal) Commit(b Batch) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	b.Seq = j.seq
	b.CommittedAt = time.Now().UTC()

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if _, err := j.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append batch: %w", err)
	}
	if err := j.w.Flush(); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	if j.syncEvery {
		if err := j.log.Sync(); err != nil {
			return fmt.Errorf("sync journal: %w", err)
		}
	}

	if len(b.Users) == 0 {
		return nil
	}
	for _, u := range b.Users {
		j.users[u.ID] = u
	}
	return j.saveUsers()
}

// Users returns the persisted user snapshots, for materializing the
// exchange at startup.
func (j *Journal) Users() []*types.User {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*types.User, 0, len(j.users))
	for _, u := range j.users {
		out = append(out, u.Clone())
	}
	return out
}

// saveUsers rewrites users.json atomically. Caller holds the lock.
func (j *Journal) saveUsers() error {
	data, err := json.Marshal(j.users)
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	path := filepath.Join(j.dir, "users.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	return os.Rename(tmp, path)
}

// loadUsers restores the user snapshot from disk. Missing file means a
// fresh journal.
func (j *Journal) loadUsers() error {
	data, err := os.ReadFile(filepath.Join(j.dir, "users.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read users: %w", err)
	}
	if err := json.Unmarshal(data, &j.users); err != nil {
		return fmt.Errorf("unmarshal users: %w", err)
	}
	return nil
}

// PlaceBatch builds the commit for one completed placement: the incoming
// order, its trades, every resting order whose fill state changed, and
// the final state of every affected user.
func PlaceBatch(order *types.Order, trades []types.Trade, restingChanged []*types.Order, users []*types.User) Batch {
	rec := RecordOrder(order)
	updated := make([]OrderRecord, 0, len(restingChanged))
	for _, o := range restingChanged {
		updated = append(updated, RecordOrder(o))
	}
	return Batch{
		Kind:          "place",
		Order:         &rec,
		Trades:        trades,
		OrdersUpdated: updated,
		Users:         users,
	}
}

// CancelBatch builds the commit for one completed cancellation.
func CancelBatch(order *types.Order, user *types.User) Batch {
	rec := RecordOrder(order)
	return Batch{
		Kind:  "cancel",
		Order: &rec,
		Users: []*types.User{user},
	}
}

// RegisterBatch builds the commit for a new user registration.
func RegisterBatch(user *types.User) Batch {
	return Batch{
		Kind:  "register",
		Users: []*types.User{user},
	}
}
