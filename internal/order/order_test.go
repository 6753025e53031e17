package order

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dverney/taskmill/internal/model"
)

func catOrder(t model.Task) int                    { return t.CategoryPageOrder }
func setCatOrder(t model.Task, ord int) model.Task { t.CategoryPageOrder = ord; return t }

func makeTasks(n int) []model.Task {
	tasks := make([]model.Task, n)
	for i := range tasks {
		tasks[i] = model.Task{ID: int64(i + 1), CategoryPageOrder: i, Status: model.StatusTodo}
	}
	return tasks
}

func applyUpdates(full []model.Task, updates []model.Task) []model.Task {
	byID := make(map[int64]model.Task, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}
	out := make([]model.Task, len(full))
	for i, t := range full {
		if u, ok := byID[t.ID]; ok {
			out[i] = u
		} else {
			out[i] = t
		}
	}
	return out
}

func TestPlanNoOp(t *testing.T) {
	tasks := makeTasks(4)
	updates, err := Plan(tasks, tasks, 2, 2, catOrder, setCatOrder)
	require.NoError(t, err)
	assert.Empty(t, updates)
}

func TestPlanRejectsBadIndices(t *testing.T) {
	tasks := makeTasks(3)
	_, err := Plan(tasks, tasks, 0, 3, catOrder, setCatOrder)
	assert.Error(t, err)
	_, err = Plan(tasks, tasks, -1, 0, catOrder, setCatOrder)
	assert.Error(t, err)
}

func TestPlanDragFirstToLast(t *testing.T) {
	// A(0), B(1), D(2) all visible; drag A to the end.
	a := model.Task{ID: 1, CategoryPageOrder: 0}
	b := model.Task{ID: 2, CategoryPageOrder: 1}
	d := model.Task{ID: 3, CategoryPageOrder: 2}
	full := []model.Task{a, b, d}

	updates, err := Plan(full, full, 0, 2, catOrder, setCatOrder)
	require.NoError(t, err)

	got := map[int64]int{}
	for _, u := range updates {
		got[u.ID] = u.CategoryPageOrder
	}
	assert.Equal(t, map[int64]int{2: 0, 3: 1, 1: 2}, got)
}

func TestPlanPreservesHiddenPositions(t *testing.T) {
	// Scope: v1(0) h(1) v2(2) v3(3); hidden task must keep its slot between
	// the first and second visible entries.
	v1 := model.Task{ID: 1, CategoryPageOrder: 0}
	h := model.Task{ID: 2, CategoryPageOrder: 1}
	v2 := model.Task{ID: 3, CategoryPageOrder: 2}
	v3 := model.Task{ID: 4, CategoryPageOrder: 3}
	full := []model.Task{v1, h, v2, v3}
	visible := []model.Task{v1, v2, v3}

	// Drag v1 (visible index 0) below v3 (visible index 2).
	updates, err := Plan(full, visible, 0, 2, catOrder, setCatOrder)
	require.NoError(t, err)

	merged := applyUpdates(full, updates)
	sort.Slice(merged, func(i, j int) bool { return merged[i].CategoryPageOrder < merged[j].CategoryPageOrder })

	var sequence []int64
	for _, t := range merged {
		sequence = append(sequence, t.ID)
	}
	// Visible order becomes v2, v3, v1; hidden stays in the second slot.
	assert.Equal(t, []int64{3, 2, 4, 1}, sequence)
}

func TestPlanEmitsOnlyChangedRows(t *testing.T) {
	tasks := makeTasks(6)
	// Swap the last two: earlier rows keep their index and are not rewritten.
	updates, err := Plan(tasks, tasks, 5, 4, catOrder, setCatOrder)
	require.NoError(t, err)
	assert.Len(t, updates, 2)
}

func TestPlanDensityUnderRandomDrags(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	full := makeTasks(9)

	for i := 0; i < 200; i++ {
		// Randomly hide a third of the scope to exercise the merge step.
		visible := make([]model.Task, 0, len(full))
		for _, task := range full {
			if task.ID%3 != 0 || rng.Intn(2) == 0 {
				visible = append(visible, task)
			}
		}
		if len(visible) < 2 {
			continue
		}
		from := rng.Intn(len(visible))
		to := rng.Intn(len(visible))

		updates, err := Plan(full, visible, from, to, catOrder, setCatOrder)
		require.NoError(t, err)
		full = applyUpdates(full, updates)

		// Order values must always be exactly {0..n-1}.
		seen := map[int]bool{}
		for _, task := range full {
			require.False(t, seen[task.CategoryPageOrder], "duplicate order %d", task.CategoryPageOrder)
			require.GreaterOrEqual(t, task.CategoryPageOrder, 0)
			require.Less(t, task.CategoryPageOrder, len(full))
			seen[task.CategoryPageOrder] = true
		}
	}
}
