package queue

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aristath/composite/internal/task"
)

func noop(id string) *task.Operation {
	return task.New(func(ctx context.Context) (any, error) { return nil, nil }, task.WithID(id))
}

// TestDependencyOrder tests ordering and cycle detection over dependency closures.
func TestDependencyOrder(t *testing.T) {
	tests := []struct {
		name      string
		setup     func() task.Task
		wantOrder []string
		wantErr   bool
	}{
		{
			name: "single task no deps",
			setup: func() task.Task {
				return noop("A")
			},
			wantOrder: []string{"A"},
		},
		{
			name: "linear chain",
			setup: func() task.Task {
				a, b, c := noop("A"), noop("B"), noop("C")
				b.AddDependency(a)
				c.AddDependency(b)
				return c
			},
			wantOrder: []string{"A", "B", "C"},
		},
		{
			name: "finished dependency is a leaf",
			setup: func() task.Task {
				a, b, c := noop("A"), noop("B"), noop("C")
				b.AddDependency(a)
				b.Cancel()
				c.AddDependency(b)
				return c
			},
			wantOrder: []string{"B", "C"},
		},
		{
			name: "direct cycle",
			setup: func() task.Task {
				a, b := noop("A"), noop("B")
				a.AddDependency(b)
				b.AddDependency(a)
				return a
			},
			wantErr: true,
		},
		{
			name: "transitive cycle",
			setup: func() task.Task {
				a, b, c := noop("A"), noop("B"), noop("C")
				a.AddDependency(c)
				b.AddDependency(a)
				c.AddDependency(b)
				return a
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := dependencyOrder(tt.setup())
			if tt.wantErr {
				if !errors.Is(err, ErrCycle) {
					t.Fatalf("expected ErrCycle, got %v", err)
				}
				if !strings.Contains(err.Error(), "cycle") {
					t.Errorf("expected error to mention cycle, got %q", err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var ids []string
			for _, tk := range order {
				ids = append(ids, tk.ID())
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantOrder, ",") {
				t.Errorf("expected order %v, got %v", tt.wantOrder, ids)
			}
		})
	}
}

func TestDiamondOrder(t *testing.T) {
	a, b, c, d := noop("A"), noop("B"), noop("C"), noop("D")
	b.AddDependency(a)
	c.AddDependency(a)
	d.AddDependency(b)
	d.AddDependency(c)

	order, err := dependencyOrder(d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos := map[string]int{}
	for i, tk := range order {
		pos[tk.ID()] = i
	}
	if len(pos) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(pos))
	}
	if pos["A"] > pos["B"] || pos["A"] > pos["C"] || pos["B"] > pos["D"] || pos["C"] > pos["D"] {
		t.Errorf("order violates dependencies: %v", pos)
	}
}

func TestDependenciesFinished(t *testing.T) {
	a, b := noop("A"), noop("B")
	b.AddDependency(a)

	if dependenciesFinished(b) {
		t.Error("expected unfinished dependency to block")
	}
	a.Start()
	<-a.Done()
	if !dependenciesFinished(b) {
		t.Error("expected finished dependency to unblock")
	}
}
