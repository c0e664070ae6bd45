package composite

import (
	"sync"

	"github.com/aristath/composite/internal/task"
)

// SequenceFunc fills a Sequence. It runs exactly once, synchronously, while
// the composite is being constructed.
type SequenceFunc func(seq *Sequence)

// Sequence collects tasks that must run one after another. Every appended
// task depends on the task appended before it.
type Sequence struct {
	mu     sync.Mutex
	tasks  []task.Task
	last   task.Task
	frozen bool
}

// Append adds t to the end of the sequence. Appending once the composite has
// taken ownership of the sequence panics.
func (s *Sequence) Append(t task.Task) {
	if t == nil {
		panic("composite: nil task appended to sequence")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		panic("composite: append to a finalized sequence")
	}
	if s.last != nil {
		t.AddDependency(s.last)
	}
	s.tasks = append(s.tasks, t)
	s.last = t
}

// Len returns the number of tasks appended so far.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// freeze stops further appends and returns the collected tasks.
func (s *Sequence) freeze() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frozen = true
	return append([]task.Task(nil), s.tasks...)
}
