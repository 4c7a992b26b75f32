// Package subscription indexes topic filters in a level tree so a published
// topic can be resolved to its subscribers without scanning every filter.
package subscription

import (
	"strings"
	"sync"

	"github.com/life-stream-dev/pitstopper/internal/topic"
)

// TopicTreeNode is one level of the subscription tree. Wildcard levels
// ("+" and "#") are stored as ordinary children keyed by the wildcard.
type TopicTreeNode[K comparable] struct {
	Level    string
	Children map[string]*TopicTreeNode[K]
	// Terminals holds the subscribers whose filter ends at this node.
	Terminals map[K]byte
}

func newNode[K comparable](level string) *TopicTreeNode[K] {
	return &TopicTreeNode[K]{
		Level:     level,
		Children:  make(map[string]*TopicTreeNode[K]),
		Terminals: make(map[K]byte),
	}
}

func (n *TopicTreeNode[K]) empty() bool {
	return len(n.Children) == 0 && len(n.Terminals) == 0
}

// Tree maps topic filters to subscriber keys and their granted QoS.
// It is safe for concurrent use.
type Tree[K comparable] struct {
	mu    sync.RWMutex
	root  *TopicTreeNode[K]
	count int
}

func NewTree[K comparable]() *Tree[K] {
	return &Tree[K]{root: newNode[K]("")}
}

// Insert records key under filter. It returns true when the key was already
// subscribed with this filter, in which case only the QoS is updated.
// The filter must already be valid.
func (t *Tree[K]) Insert(filter string, key K, qos byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := t.root
	for _, level := range topic.Levels(filter) {
		child, ok := node.Children[level]
		if !ok {
			child = newNode[K](level)
			node.Children[level] = child
		}
		node = child
	}

	_, existed := node.Terminals[key]
	node.Terminals[key] = qos
	if !existed {
		t.count++
	}
	return existed
}

// Delete removes key from filter and prunes branches left empty.
func (t *Tree[K]) Delete(filter string, key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	levels := topic.Levels(filter)
	path := make([]*TopicTreeNode[K], 0, len(levels)+1)
	node := t.root
	path = append(path, node)
	for _, level := range levels {
		child, ok := node.Children[level]
		if !ok {
			return false
		}
		node = child
		path = append(path, node)
	}

	if _, ok := node.Terminals[key]; !ok {
		return false
	}
	delete(node.Terminals, key)
	t.count--

	for i := len(path) - 1; i > 0; i-- {
		if !path[i].empty() {
			break
		}
		delete(path[i-1].Children, path[i].Level)
	}
	return true
}

// MatchTopic returns every key subscribed to a filter matching publishTopic.
// A key reachable through several filters is reported once with its highest QoS.
// The returned map is owned by the caller.
func (t *Tree[K]) MatchTopic(publishTopic string) map[K]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	results := make(map[K]byte)
	if publishTopic == "" {
		return results
	}
	dollar := strings.HasPrefix(publishTopic, "$")
	t.collect(t.root, topic.Levels(publishTopic), true, dollar, results)
	return results
}

func (t *Tree[K]) collect(node *TopicTreeNode[K], levels []string, root, dollar bool, results map[K]byte) {
	wildcardsAllowed := !(root && dollar)

	if hash, ok := node.Children[topic.MultiWildcard]; ok && wildcardsAllowed {
		merge(results, hash.Terminals)
	}

	if len(levels) == 0 {
		merge(results, node.Terminals)
		return
	}

	if child, ok := node.Children[levels[0]]; ok {
		t.collect(child, levels[1:], false, dollar, results)
	}
	if plus, ok := node.Children[topic.SingleWildcard]; ok && wildcardsAllowed {
		t.collect(plus, levels[1:], false, dollar, results)
	}
}

func merge[K comparable](results map[K]byte, terminals map[K]byte) {
	for key, qos := range terminals {
		if current, ok := results[key]; !ok || qos > current {
			results[key] = qos
		}
	}
}

// Len returns the number of (filter, key) entries in the tree.
func (t *Tree[K]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}
