package thread

import (
	"fmt"

	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
)

// Tree is an insertion-ordered collection of messages linked by parent ids.
// It is not safe for concurrent use; Session serializes access.
type Tree struct {
	messages []*models.Message
	byID     map[string]*models.Message
	head     string
}

func NewTree() *Tree {
	return &Tree{byID: make(map[string]*models.Message)}
}

// NewTreeFrom builds a tree from messages in the order given.
func NewTreeFrom(msgs []*models.Message) (*Tree, error) {
	t := NewTree()
	for _, m := range msgs {
		if err := t.Insert(m); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) Len() int {
	return len(t.messages)
}

// Insert appends a message. Existing messages are never replaced.
func (t *Tree) Insert(m *models.Message) error {
	if _, exists := t.byID[m.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, m.ID)
	}
	t.messages = append(t.messages, m)
	t.byID[m.ID] = m
	return nil
}

func (t *Tree) Get(id string) (*models.Message, bool) {
	m, ok := t.byID[id]
	return m, ok
}

// Messages returns the messages in insertion order. The slice is a copy,
// the messages are not.
func (t *Tree) Messages() []*models.Message {
	out := make([]*models.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Tree) Leaves() []*models.Message {
	return Leaves(t.messages)
}

// Head returns the explicit head if one was set, otherwise the auto-detected one.
func (t *Tree) Head() string {
	return DetectHead(t.messages, t.head)
}

// SetHead pins the displayed branch to id.
func (t *Tree) SetHead(id string) error {
	if _, ok := t.byID[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}
	t.head = id
	return nil
}

// ClearHead reverts to auto-detection.
func (t *Tree) ClearHead() {
	t.head = ""
}

// HasExplicitHead reports whether SetHead is in effect.
func (t *Tree) HasExplicitHead() bool {
	return t.head != ""
}

// ActivePath returns root..head for the effective head.
func (t *Tree) ActivePath() []*models.Message {
	return BranchPath(t.byID, t.Head())
}

// PathTo returns root..id.
func (t *Tree) PathTo(id string) []*models.Message {
	return BranchPath(t.byID, id)
}

// Siblings returns every message sharing id's parent, id included, in
// insertion order.
func (t *Tree) Siblings(id string) []*models.Message {
	target, ok := t.byID[id]
	if !ok {
		return nil
	}
	var out []*models.Message
	for _, m := range t.messages {
		if sameParent(m, target) {
			out = append(out, m)
		}
	}
	return out
}

// LatestLeafUnder returns the auto-detected head of the subtree rooted at id.
func (t *Tree) LatestLeafUnder(id string) string {
	if _, ok := t.byID[id]; !ok {
		return ""
	}
	inSubtree := map[string]bool{id: true}
	sub := []*models.Message{t.byID[id]}
	// Parents precede children in insertion order, so one pass suffices
	// for trees built by appending.
	for _, m := range t.messages {
		if m.ID == id || m.ParentID == nil {
			continue
		}
		if inSubtree[*m.ParentID] && !inSubtree[m.ID] {
			inSubtree[m.ID] = true
			sub = append(sub, m)
		}
	}
	return DetectHead(sub, "")
}

func sameParent(a, b *models.Message) bool {
	if a.ParentID == nil || b.ParentID == nil {
		return a.ParentID == nil && b.ParentID == nil
	}
	return *a.ParentID == *b.ParentID
}

// Leaves returns the messages no other message names as its parent,
// in input order.
func Leaves(msgs []*models.Message) []*models.Message {
	parents := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ParentID != nil {
			parents[*m.ParentID] = struct{}{}
		}
	}
	var leaves []*models.Message
	for _, m := range msgs {
		if _, isParent := parents[m.ID]; !isParent {
			leaves = append(leaves, m)
		}
	}
	return leaves
}

// DetectHead picks the active leaf. An explicit override wins; otherwise
// assistant leaves are preferred and the latest CreatedAt is chosen, with
// ties going to the message inserted last. With no leaves at all the last
// message is returned, and "" for an empty collection.
func DetectHead(msgs []*models.Message, override string) string {
	if override != "" {
		return override
	}
	if len(msgs) == 0 {
		return ""
	}

	leaves := Leaves(msgs)
	if len(leaves) == 0 {
		return msgs[len(msgs)-1].ID
	}

	var preferred []*models.Message
	for _, m := range leaves {
		if m.Role == models.MessageRoleAssistant {
			preferred = append(preferred, m)
		}
	}
	if len(preferred) == 0 {
		preferred = leaves
	}

	best := preferred[0]
	for _, m := range preferred[1:] {
		if !m.CreatedAt.Before(best.CreatedAt) {
			best = m
		}
	}
	return best.ID
}

// BranchPath walks parent pointers from headID and returns the path root
// first. The walk stops at a root, a missing ancestor or a repeated id.
func BranchPath(byID map[string]*models.Message, headID string) []*models.Message {
	var reversed []*models.Message
	visited := make(map[string]bool)

	cur, ok := byID[headID]
	for ok && !visited[cur.ID] {
		visited[cur.ID] = true
		reversed = append(reversed, cur)
		if cur.ParentID == nil {
			break
		}
		cur, ok = byID[*cur.ParentID]
	}

	path := make([]*models.Message, len(reversed))
	for i, m := range reversed {
		path[len(reversed)-1-i] = m
	}
	return path
}
