package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: TaskStarted})
	b.Publish(Event{Type: TaskFinished})

	e := <-ch
	assert.Equal(t, TaskStarted, e.Type)
	assert.False(t, e.Time.IsZero())
	assert.EqualValues(t, 1, b.Dropped())

	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
	b.Publish(Event{Type: TaskFailed})
	assert.EqualValues(t, 1, b.Dropped())
}

func TestSubscribeTopics(t *testing.T) {
	t.Parallel()
	b := New()
	tasks, unsubTasks := b.Subscribe(8, "task.")
	defer unsubTasks()
	reload, unsubReload := b.Subscribe(8, ConfigReloaded)
	defer unsubReload()

	for _, typ := range []string{TaskStarted, NotifySent, ConfigReloaded, TaskFailed} {
		b.Publish(Event{Type: typ})
	}

	require.Len(t, tasks, 2)
	assert.Equal(t, TaskStarted, (<-tasks).Type)
	assert.Equal(t, TaskFailed, (<-tasks).Type)
	require.Len(t, reload, 1)
	assert.Equal(t, ConfigReloaded, (<-reload).Type)
	assert.Zero(t, b.Dropped())
}
