package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shinkai-run/shinkai-node/message"
	"github.com/shinkai-run/shinkai-node/store"
)

// Store is the content-addressed conversation tree store: per-inbox
// insert/traversal serialized by a per-inbox lock, with a separate
// store-wide lock guarding only the map of inboxes: one lock per inbox
// instead of one lock for everything, since concurrent writers on
// different inboxes must not block each other.
type Store struct {
	db store.Store

	mu     sync.Mutex
	inboxes map[string]*inboxState
}

type inboxState struct {
	mu       sync.Mutex
	messages map[string]*StoredMessage // keyed by hash
	roots    []string                   // hashes with no parent, insertion order
	meta     Meta
}

// NewStore creates an InboxStore backed by db's `inboxes`/`all_messages`/
// `all_messages_time_keyed` column families.
func NewStore(db store.Store) *Store {
	return &Store{db: db, inboxes: make(map[string]*inboxState)}
}

func (s *Store) stateFor(inboxName string, createIfMissing bool) *inboxState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.inboxes[inboxName]
	if !ok {
		if !createIfMissing {
			return nil
		}
		st = &inboxState{
			messages: make(map[string]*StoredMessage),
			meta:     Meta{InboxName: inboxName, DatetimeCreated: time.Now()},
		}
		s.inboxes[inboxName] = st
	}
	return st
}

func (s *Store) persistMessage(ctx context.Context, sm *StoredMessage) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(sm)
	if err != nil {
		return err
	}
	if err := s.db.Put(ctx, store.CFAllMessages, sm.Hash, data); err != nil {
		return err
	}
	timeKey := fmt.Sprintf("%020d::%s", sm.Time.UnixNano(), sm.Hash)
	return s.db.Put(ctx, store.CFAllMessagesTimeKeyed, timeKey, data)
}

func (s *Store) persistMeta(ctx context.Context, inboxName string, meta Meta) error {
	if s.db == nil {
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Put(ctx, store.CFInboxes, inboxName, data)
}

// Insert stores msg under inboxName, hashing it for pagination and
// rejecting duplicates by hash. If parentHash is non-empty it must
// already be stored, and the edge is recorded both ways. Idempotent:
// reinserting an identical hash is a no-op.
func (s *Store) Insert(ctx context.Context, inboxName string, msg *message.Message, parentHash string) (*StoredMessage, error) {
	hash, err := message.Hash(msg)
	if err != nil {
		return nil, fmt.Errorf("inbox: hash message: %w", err)
	}

	st := s.stateFor(inboxName, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	if existing, ok := st.messages[hash]; ok {
		return existing, nil
	}

	if parentHash != "" {
		parent, ok := st.messages[parentHash]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentHash)
		}
		parent.Children = append(parent.Children, hash)
	}

	if msg.Body.Inner != nil && msg.Body.Inner.InternalMetadata.NodeAPIData == nil {
		msg.Body.Inner.InternalMetadata.NodeAPIData = &message.NodeAPIData{}
	}
	if msg.Body.Inner != nil {
		msg.Body.Inner.InternalMetadata.NodeAPIData.MessageHash = hash
		msg.Body.Inner.InternalMetadata.NodeAPIData.ParentHash = parentHash
	}

	sm := &StoredMessage{
		Message:    msg,
		Hash:       hash,
		ParentHash: parentHash,
		InboxName:  inboxName,
		Time:       time.Now(),
	}
	st.messages[hash] = sm
	if parentHash == "" {
		st.roots = append(st.roots, hash)
	}

	st.meta.Head = hash
	if err := s.persistMessage(ctx, sm); err != nil {
		return nil, err
	}
	if err := s.persistMeta(ctx, inboxName, st.meta); err != nil {
		return nil, err
	}
	return sm, nil
}

// childrenSorted returns parent's children hashes in ascending hash
// tiebreak order: insertion time only decides which generation a
// message belongs to, never sibling order within a generation.
func (st *inboxState) childrenSorted(parentHash string) []string {
	var children []string
	if parentHash == "" {
		children = append(children, st.roots...)
	} else if parent, ok := st.messages[parentHash]; ok {
		children = append(children, parent.Children...)
	}
	sort.Strings(children)
	return children
}

// leaf returns the most recently inserted message's hash — the tip of
// the tree last_messages descends from by default.
func (st *inboxState) leaf() string {
	return st.meta.Head
}

// generationsFromLeaf walks from startHash up to the root, grouping
// siblings under the same parent into one generation, returning at
// most n generations ordered root-first.
func (st *inboxState) generationsFromLeaf(startHash string, n int) [][]*StoredMessage {
	if startHash == "" {
		return nil
	}
	msg, ok := st.messages[startHash]
	if !ok {
		return nil
	}

	var chain []string
	parent := msg.ParentHash
	chain = append(chain, startHash)
	for parent != "" {
		chain = append(chain, parent)
		p, ok := st.messages[parent]
		if !ok {
			break
		}
		parent = p.ParentHash
	}

	var generations [][]*StoredMessage
	seen := map[string]bool{}
	for i := len(chain) - 1; i >= 0; i-- {
		hash := chain[i]
		msg, ok := st.messages[hash]
		if !ok || seen[hash] {
			continue
		}
		parentHash := msg.ParentHash
		siblings := st.childrenSorted(parentHash)
		var gen []*StoredMessage
		for _, sib := range siblings {
			if sm, ok := st.messages[sib]; ok {
				gen = append(gen, sm)
				seen[sib] = true
			}
		}
		generations = append(generations, gen)
	}

	if n > 0 && len(generations) > n {
		generations = generations[len(generations)-n:]
	}
	return generations
}

// LastMessages returns up to n generations of the path from the most
// recent leaf (or offsetHash's parent, if given) up to the root.
func (s *Store) LastMessages(ctx context.Context, inboxName string, n int, offsetHash string) ([][]*StoredMessage, error) {
	st := s.stateFor(inboxName, false)
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrInboxNotFound, inboxName)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	start := st.leaf()
	if offsetHash != "" {
		offsetMsg, ok := st.messages[offsetHash]
		if !ok {
			return nil, fmt.Errorf("%w: offset %s", ErrParentNotFound, offsetHash)
		}
		start = offsetMsg.ParentHash
	}
	return st.generationsFromLeaf(start, n), nil
}

// LastUnreadMessages is LastMessages truncated at the read watermark:
// any generation at or before the watermark's own generation is
// dropped from the result.
func (s *Store) LastUnreadMessages(ctx context.Context, inboxName string, n int, offsetHash string) ([][]*StoredMessage, error) {
	st := s.stateFor(inboxName, false)
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrInboxNotFound, inboxName)
	}

	generations, err := s.LastMessages(ctx, inboxName, 0, offsetHash)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	watermark := st.meta.ReadWatermark
	st.mu.Unlock()

	if watermark == "" {
		return capGenerations(generations, n), nil
	}

	cut := 0
	for i, gen := range generations {
		for _, m := range gen {
			if m.Hash == watermark {
				cut = i + 1
			}
		}
	}
	remaining := generations[cut:]
	return capGenerations(remaining, n), nil
}

func capGenerations(generations [][]*StoredMessage, n int) [][]*StoredMessage {
	if n > 0 && len(generations) > n {
		return generations[len(generations)-n:]
	}
	return generations
}

// MarkAsReadUpTo stores hash as inboxName's read watermark. Idempotent.
func (s *Store) MarkAsReadUpTo(ctx context.Context, inboxName, hash string) error {
	st := s.stateFor(inboxName, false)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrInboxNotFound, inboxName)
	}
	st.mu.Lock()
	st.meta.ReadWatermark = hash
	meta := st.meta
	st.mu.Unlock()
	return s.persistMeta(ctx, inboxName, meta)
}

// UpdateSmartInboxName sets inboxName's display name.
func (s *Store) UpdateSmartInboxName(ctx context.Context, inboxName, name string) error {
	st := s.stateFor(inboxName, false)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrInboxNotFound, inboxName)
	}
	st.mu.Lock()
	st.meta.CustomName = name
	meta := st.meta
	st.mu.Unlock()
	return s.persistMeta(ctx, inboxName, meta)
}

// SetFinished marks inboxName as finished, a job inbox's terminal
// state.
func (s *Store) SetFinished(ctx context.Context, inboxName string, finished bool) error {
	st := s.stateFor(inboxName, false)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrInboxNotFound, inboxName)
	}
	st.mu.Lock()
	st.meta.IsFinished = finished
	meta := st.meta
	st.mu.Unlock()
	return s.persistMeta(ctx, inboxName, meta)
}

// SmartInboxesForProfile returns summaries of every inbox whose name
// involves profile (a chat participant or a job inbox created for it).
func (s *Store) SmartInboxesForProfile(profile string) []SmartInbox {
	s.mu.Lock()
	names := make([]string, 0, len(s.inboxes))
	for name := range s.inboxes {
		names = append(names, name)
	}
	s.mu.Unlock()

	var out []SmartInbox
	for _, name := range names {
		if !strings.Contains(name, profile) {
			continue
		}
		st := s.stateFor(name, false)
		if st == nil {
			continue
		}
		st.mu.Lock()
		summary := ""
		if st.meta.Head != "" {
			if head, ok := st.messages[st.meta.Head]; ok && head.Message.Body.Inner != nil {
				summary = head.Message.Body.Inner.MessageData.Content
			}
		}
		out = append(out, SmartInbox{
			InboxName:          name,
			CustomName:         st.meta.CustomName,
			LastMessageSummary: summary,
			JobID:              st.meta.JobID,
			IsFinished:         st.meta.IsFinished,
			DatetimeCreated:    st.meta.DatetimeCreated,
		})
		st.mu.Unlock()
	}
	return out
}

// Fork creates a new job_id whose inbox's initial tree is the path
// from root to atMessageHash in sourceInboxName; subsequent writes to
// either inbox diverge independently.
func (s *Store) Fork(ctx context.Context, sourceInboxName, atMessageHash string) (newInboxName, newJobID string, err error) {
	src := s.stateFor(sourceInboxName, false)
	if src == nil {
		return "", "", fmt.Errorf("%w: %s", ErrJobNotFound, sourceInboxName)
	}
	src.mu.Lock()
	defer src.mu.Unlock()

	if _, ok := src.messages[atMessageHash]; !ok {
		return "", "", fmt.Errorf("%w: %s", ErrParentNotFound, atMessageHash)
	}

	newJobID = uuid.NewString()
	newInboxName = message.JobInboxName(newJobID)

	dst := &inboxState{
		messages: make(map[string]*StoredMessage),
		meta:     Meta{InboxName: newInboxName, IsJobInbox: true, JobID: newJobID, DatetimeCreated: time.Now()},
	}

	var chain []string
	for h := atMessageHash; h != ""; {
		chain = append(chain, h)
		m, ok := src.messages[h]
		if !ok {
			break
		}
		h = m.ParentHash
	}
	for i := len(chain) - 1; i >= 0; i-- {
		h := chain[i]
		orig := src.messages[h]
		copyMsg := *orig
		copyMsg.Children = nil
		dst.messages[h] = &copyMsg
		if copyMsg.ParentHash == "" {
			dst.roots = append(dst.roots, h)
		} else if parent, ok := dst.messages[copyMsg.ParentHash]; ok {
			parent.Children = append(parent.Children, h)
		}
	}
	dst.meta.Head = atMessageHash

	s.mu.Lock()
	s.inboxes[newInboxName] = dst
	s.mu.Unlock()

	if err := s.persistMeta(ctx, newInboxName, dst.meta); err != nil {
		return "", "", err
	}
	return newInboxName, newJobID, nil
}

// RemoveJob deletes the job inbox identified by jobID.
func (s *Store) RemoveJob(ctx context.Context, jobID string) error {
	inboxName := message.JobInboxName(jobID)
	s.mu.Lock()
	_, ok := s.inboxes[inboxName]
	delete(s.inboxes, inboxName)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if s.db != nil {
		return s.db.Delete(ctx, store.CFInboxes, inboxName)
	}
	return nil
}

// Meta returns the Meta record for inboxName.
func (s *Store) Meta(inboxName string) (Meta, error) {
	st := s.stateFor(inboxName, false)
	if st == nil {
		return Meta{}, fmt.Errorf("%w: %s", ErrInboxNotFound, inboxName)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.meta, nil
}
