package util

import (
	"container/heap"
	"sort"
	"testing"
)

// TestNewMapHeap tests the creation of a new MapHeap
func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[int]()

	if mh == nil {
		t.Fatal("NewMapHeap() returned nil")
	}

	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}

	if len(mh.itemsMap) != 0 {
		t.Errorf("New heap's map should be empty, but has %d items", len(mh.itemsMap))
	}
}

// TestAddItem tests adding items to the heap
func TestAddItem(t *testing.T) {
	mh := NewMapHeap[string]()

	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 50)

	if mh.Len() != 3 {
		t.Errorf("Heap should have 3 items, but has %d", mh.Len())
	}

	for _, k := range []string{"a", "b", "c"} {
		if !mh.Contains(k) {
			t.Errorf("Heap should contain key %s", k)
		}
	}

	// min heap, so the lowest priority should be first
	item, exists := mh.Peek()
	if !exists {
		t.Fatal("Peek() should return an item")
	}
	if item.Key != "c" || item.Priority != 50 {
		t.Errorf("Expected min item to be (c,50), got %s", item)
	}
}

// TestUpdateItem tests updating existing items
func TestUpdateItem(t *testing.T) {
	mh := NewMapHeap[int]()

	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(1, 300)

	item, exists := mh.GetByKey(1)
	if !exists {
		t.Fatal("Item with key 1 should exist")
	}
	if item.Priority != 300 {
		t.Errorf("Item with key 1 should have priority 300, got %d", item.Priority)
	}

	min, _ := mh.Peek()
	if min.Key != 2 {
		t.Errorf("Min item should now be key 2, got %d", min.Key)
	}

	mh.AddItem(2, 50)
	min, _ = mh.Peek()
	if min.Key != 2 || min.Priority != 50 {
		t.Errorf("Min item should now be (2,50), got %s", min)
	}
}

// TestRemoveByKey tests removing items by key
func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[int]()

	mh.AddItem(1, 100)
	mh.AddItem(2, 200)
	mh.AddItem(3, 300)

	priority, exists := mh.RemoveByKey(2)
	if !exists {
		t.Fatal("RemoveByKey should return true for existing key")
	}
	if priority != 200 {
		t.Errorf("RemoveByKey should return priority 200, got %d", priority)
	}
	if mh.Len() != 2 {
		t.Errorf("Heap should have 2 items after removal, has %d", mh.Len())
	}
	if mh.Contains(2) {
		t.Error("Heap should not contain key 2 after removal")
	}

	if _, exists = mh.RemoveByKey(99); exists {
		t.Error("RemoveByKey should return false for non-existent key")
	}
}

// TestPopOrder tests if items are popped in correct order
func TestPopOrder(t *testing.T) {
	mh := NewMapHeap[int]()

	items := []struct {
		key      int
		priority int64
	}{
		{5, 50},
		{3, 30},
		{1, -10},
		{4, 40},
		{2, 20},
	}
	for _, item := range items {
		mh.AddItem(item.key, item.priority)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].priority < items[j].priority
	})

	for i, expected := range items {
		item, ok := mh.PopMin()
		if !ok {
			t.Fatalf("Heap empty after %d items, expected %d items", i, len(items))
		}
		if item.Key != expected.key || item.Priority != expected.priority {
			t.Errorf("Pop %d: expected (%d,%d), got %s", i, expected.key, expected.priority, item)
		}
	}

	if _, ok := mh.PopMin(); ok {
		t.Errorf("PopMin on empty heap should return false")
	}
}

// TestPopUntil tests removing all items up to a priority
func TestPopUntil(t *testing.T) {
	mh := NewMapHeap[int]()
	for i := 1; i <= 10; i++ {
		mh.AddItem(i, int64(i*10))
	}

	due := mh.PopUntil(45)
	if len(due) != 4 {
		t.Fatalf("Expected 4 due items, got %d", len(due))
	}
	for i, item := range due {
		if item.Key != i+1 {
			t.Errorf("Expected key %d at position %d, got %d", i+1, i, item.Key)
		}
	}
	if mh.Len() != 6 || mh.Contains(4) {
		t.Errorf("Expected due items to be removed")
	}

	heap.Init(mh)
	if due := mh.PopUntil(0); len(due) != 0 {
		t.Errorf("Expected no due items, got %d", len(due))
	}

	mh.Clear()
	if mh.Len() != 0 || mh.Contains(5) {
		t.Errorf("Expected empty heap after Clear")
	}
}

// TestLargeNumberOfItems tests the heap property with many items
func TestLargeNumberOfItems(t *testing.T) {
	mh := NewMapHeap[int]()
	const n = 1000

	for i := 0; i < n; i++ {
		mh.AddItem(i, int64((i*7919)%n))
	}
	for i := 0; i < n; i += 3 {
		mh.RemoveByKey(i)
	}

	last := int64(-1)
	for mh.Len() > 0 {
		item, _ := mh.PopMin()
		if item.Priority < last {
			t.Fatalf("Heap order violated: %d after %d", item.Priority, last)
		}
		last = item.Priority
	}
}
