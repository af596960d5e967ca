package common

// Set is a plain hash set. It is not safe for concurrent use; callers guard it.
type Set[T comparable] struct {
	elements map[T]struct{}
}

func NewSet[T comparable]() *Set[T] {
	return &Set[T]{
		elements: make(map[T]struct{}),
	}
}

// Add inserts value and reports whether it was not present before.
func (s *Set[T]) Add(value T) bool {
	if _, found := s.elements[value]; found {
		return false
	}
	s.elements[value] = struct{}{}
	return true
}

// Remove deletes value and reports whether it was present.
func (s *Set[T]) Remove(value T) bool {
	if _, found := s.elements[value]; !found {
		return false
	}
	delete(s.elements, value)
	return true
}

func (s *Set[T]) Contains(value T) bool {
	_, found := s.elements[value]
	return found
}

func (s *Set[T]) Size() int {
	return len(s.elements)
}

// List returns a snapshot of the elements in unspecified order.
func (s *Set[T]) List() []T {
	keys := make([]T, 0, len(s.elements))
	for key := range s.elements {
		keys = append(keys, key)
	}
	return keys
}
