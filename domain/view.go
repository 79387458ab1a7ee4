package domain

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
)

// ViewComposer builds the grouped board view for a user.
type ViewComposer struct {
	st     TaskStore
	logger *log.Logger
}

func NewViewComposer(st TaskStore, logger *log.Logger) ViewComposer {
	return ViewComposer{st: st, logger: logger}
}

// Compose loads the owner's tasks and splits them by column, each column in
// ascending order. Ties keep the order the store returned them in. Tasks with
// an unknown status are left out of every column.
func (c ViewComposer) Compose(ctx context.Context, owner string) (GroupedView, error) {
	tasks, err := c.st.ListTasks(ctx, owner)
	if err != nil {
		return GroupedView{}, NewStoreError("list tasks", err)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })

	view := NewGroupedView()
	for _, t := range tasks {
		switch t.Status {
		case StatusTodo:
			view.Todo = append(view.Todo, t)
		case StatusInProgress:
			view.InProgress = append(view.InProgress, t)
		case StatusFinished:
			view.Finished = append(view.Finished, t)
		default:
			if c.logger != nil {
				c.logger.WithFields(log.Fields{"owner": owner, "task": t.ID, "status": t.Status}).Debug("dropping task with unknown status")
			}
		}
	}
	return view, nil
}
