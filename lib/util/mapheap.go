package util

import (
	"container/heap"
	"fmt"
)

// Item is an entry of a MapHeap: a key with its priority
type Item[K comparable] struct {
	Key      K     // Unique identifier for the item
	Priority int64 // Priority used for ordering in the heap (lowest first)
	index    int   // Index in the heap, maintained by heap package
}

func (i *Item[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap of keys ordered by priority that also supports
// access and removal by key. It is used as the expiry index of fragments,
// with the deadline in unix nanoseconds as priority.
//
//   - O(log n) for Push, Pop, AddItem and RemoveByKey
//   - O(1) for Contains, GetByKey and Peek
//
// Thread-safety: MapHeap is not thread-safe, external synchronization is required.
type MapHeap[K comparable] struct {
	items    []*Item[K]     // The actual heap slice
	itemsMap map[K]*Item[K] // Map for O(1) access by key
}

// NewMapHeap creates a new empty heap
func NewMapHeap[K comparable]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*Item[K], 0),
		itemsMap: make(map[K]*Item[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (mh *MapHeap[K]) Len() int { return len(mh.items) }

// Less compares items by priority (part of heap.Interface)
func (mh *MapHeap[K]) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (mh *MapHeap[K]) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface)
func (mh *MapHeap[K]) Push(x any) {
	item := x.(*Item[K])
	item.index = len(mh.items)
	mh.items = append(mh.items, item)
	mh.itemsMap[item.Key] = item
}

// Pop removes and returns the last item (part of heap.Interface).
// Use heap.Pop or PopMin to get the minimum.
func (mh *MapHeap[K]) Pop() any {
	old := mh.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // Avoid memory leak
	item.index = -1 // For safety
	mh.items = old[:n-1]
	delete(mh.itemsMap, item.Key)
	return item
}

// AddItem adds a new item to the queue or updates the priority of an existing one
func (mh *MapHeap[K]) AddItem(key K, priority int64) {
	if item, exists := mh.itemsMap[key]; exists {
		item.Priority = priority
		heap.Fix(mh, item.index)
		return
	}
	heap.Push(mh, &Item[K]{Key: key, Priority: priority})
}

// RemoveByKey removes an item by its key and returns its priority
func (mh *MapHeap[K]) RemoveByKey(key K) (int64, bool) {
	item, exists := mh.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, item.index)
	return item.Priority, true
}

// Peek returns the minimum item without removing it
func (mh *MapHeap[K]) Peek() (*Item[K], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// PopMin removes and returns the minimum item
func (mh *MapHeap[K]) PopMin() (*Item[K], bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return heap.Pop(mh).(*Item[K]), true
}

// PopUntil removes and returns all items with a priority <= limit, lowest first
func (mh *MapHeap[K]) PopUntil(limit int64) []*Item[K] {
	var due []*Item[K]
	for {
		min, ok := mh.Peek()
		if !ok || min.Priority > limit {
			return due
		}
		due = append(due, heap.Pop(mh).(*Item[K]))
	}
}

// Contains checks if a key exists in the queue
func (mh *MapHeap[K]) Contains(key K) bool {
	_, exists := mh.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (mh *MapHeap[K]) GetByKey(key K) (*Item[K], bool) {
	item, exists := mh.itemsMap[key]
	return item, exists
}

// Clear removes all items
func (mh *MapHeap[K]) Clear() {
	mh.items = make([]*Item[K], 0)
	mh.itemsMap = make(map[K]*Item[K])
}
