package chain

import (
	"fmt"
	"sync"

	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/cmn/jsp"
	"github.com/theater-rt/theater/store"
)

// Chain is the per-actor, single-writer event log. The Actor Runtime and
// the Interceptor are the only callers that ever append; everyone else
// (info queries, subscribers, the replay engine reading a saved chain)
// only reads.
type Chain struct {
	actorID cmn.ActorID

	mu     sync.Mutex // single-writer lock: append holds it for the duration of one append
	events []Event
	tail   string // hash of the last appended event, "" if empty

	// onAppend, if set, is called with every newly appended event, outside
	// the lock, so a subscriber fan-out can never deadlock against a
	// concurrent Append. Theater wires this to its NewEvent fan-out.
	onAppend func(Event)
}

func New(actorID cmn.ActorID) *Chain {
	return &Chain{actorID: actorID}
}

// OnAppend registers the subscriber-notification hook. Only the Theater
// Runtime calls this, once, right after creating the chain.
func (c *Chain) OnAppend(fn func(Event)) {
	c.mu.Lock()
	c.onAppend = fn
	c.mu.Unlock()
}

// Append computes parent=tail, hashes the payload, and appends - the one
// and only mutation path for a chain.
func (c *Chain) Append(payload Payload) (Event, error) {
	c.mu.Lock()
	hash, err := computeHash(c.tail, payload)
	if err != nil {
		c.mu.Unlock()
		return Event{}, err
	}
	ev := Event{
		Seq:        int64(len(c.events)),
		ParentHash: c.tail,
		Payload:    payload,
		Hash:       hash,
	}
	c.events = append(c.events, ev)
	c.tail = hash
	onAppend := c.onAppend
	c.mu.Unlock()

	if onAppend != nil {
		onAppend(ev)
	}
	return ev, nil
}

func (c *Chain) Tail() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return Event{}, false
	}
	return c.events[len(c.events)-1], true
}

// Events returns an immutable snapshot - copying out from under the lock
// so a slow reader never blocks the single writer.
func (c *Chain) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// Verify walks the chain re-computing every hash. It never mutates state,
// so it is safe to call concurrently with Append (it works off a
// snapshot).
func (c *Chain) Verify() bool {
	events := c.Events()
	parent := ""
	for _, ev := range events {
		if ev.ParentHash != parent {
			return false
		}
		hash, err := computeHash(ev.ParentHash, ev.Payload)
		if err != nil || hash != ev.Hash {
			return false
		}
		parent = ev.Hash
	}
	return true
}

// persisted is the shape Save writes: a plain ordered event list, stored
// as a JSON content blob whose reference is its own SHA-256, so the
// Store's hash check on Get is what detects a damaged copy.
type persisted struct {
	ActorID cmn.ActorID `json:"actor_id"`
	Events  []Event     `json:"events"`
}

func (persisted) JspOpts() jsp.Options { return jsp.CCSign(1) }

// labelFor is the on-disk persistence convention: the label
// `chain:<actor-id>` is bound to the chain's content reference.
func labelFor(id cmn.ActorID) string { return fmt.Sprintf("chain:%s", id) }

// Save persists the chain as a single content blob in s and points the
// `chain:<actor-id>` label at it.
func (c *Chain) Save(s *store.Store) (store.ContentRef, error) {
	p := persisted{ActorID: c.actorID, Events: c.Events()}
	body, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	ref, err := s.Put(body)
	if err != nil {
		return "", err
	}
	if err := s.Label(labelFor(c.actorID), ref); err != nil {
		return "", err
	}
	return ref, nil
}

// Load reads back a chain previously written by Save, either by content
// reference or via the `chain:<actor-id>` label convention.
func Load(s *store.Store, ref store.ContentRef) (*Chain, error) {
	body, err := s.Get(ref)
	if err != nil {
		return nil, err
	}
	var p persisted
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}
	c := &Chain{actorID: p.ActorID, events: p.Events}
	if tail, ok := c.Tail(); ok {
		c.tail = tail.Hash
	}
	return c, nil
}

func LoadByActor(s *store.Store, id cmn.ActorID) (*Chain, error) {
	ref, ok := s.Resolve(labelFor(id))
	if !ok {
		return nil, &cmn.ErrNotFound{What: labelFor(id)}
	}
	return Load(s, ref)
}
