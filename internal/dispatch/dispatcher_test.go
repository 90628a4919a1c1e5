package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arealink/arealink/internal/jobs"
	"github.com/arealink/arealink/internal/placeholder"
	"github.com/arealink/arealink/internal/queue"
	"github.com/arealink/arealink/internal/service"
	"github.com/arealink/arealink/internal/store"
	"github.com/arealink/arealink/internal/store/memory"
)

type fakeController struct{}

func (fakeController) Start(ctx context.Context, app *service.App) error { return nil }
func (fakeController) Config() service.ServiceConfig                     { return service.ServiceConfig{} }

// fakeReaction is a configurable reaction handler for dispatch tests.
type fakeReaction struct {
	prepared   map[string]any
	prepareErr error
	panicOn    bool
}

func (f *fakeReaction) Trigger(ctx context.Context, w *jobs.WorkableObject) error { return nil }

func (f *fakeReaction) PrepareData(ctx context.Context, reactionID string, app *service.App) (map[string]any, error) {
	if f.panicOn {
		panic("adapter bug")
	}
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return f.prepared, nil
}

func (f *fakeReaction) CreateReaction(ctx context.Context, userID string, options map[string]any, app *service.App) service.OperationStatus {
	return service.OK()
}
func (f *fakeReaction) UpdateReaction(ctx context.Context, reactionID string, oldOptions, newOptions map[string]any, app *service.App) service.OperationStatus {
	return service.OK()
}
func (f *fakeReaction) DeleteReaction(ctx context.Context, reactionID string, options map[string]any, app *service.App) service.OperationStatus {
	return service.OK()
}
func (f *fakeReaction) Config() service.ReactionConfig { return service.ReactionConfig{} }

type fixture struct {
	store      *memory.Store
	registry   *service.Registry
	queue      *queue.Memory
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	reg := service.NewRegistry()
	q := queue.NewMemory()
	t.Cleanup(func() { q.Close() })

	app := &service.App{Logger: slog.Default(), Store: st}
	d := New(st, reg, q, app, nil, slog.Default())
	app.Fire = d.Fire

	return &fixture{store: st, registry: reg, queue: q, dispatcher: d}
}

// seedArea persists a user, area, action, and the given reactions.
func (f *fixture) seedArea(t *testing.T, enabled bool, reactions ...store.Reaction) *store.Action {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.PutUser(ctx, &store.User{ID: "u1", Email: "u1@example.com"}))
	require.NoError(t, f.store.PutArea(ctx, &store.Area{ID: "ar1", Name: "my area", UserID: "u1", Enabled: enabled}))

	action := &store.Action{ID: "ac1", AreaID: "ar1", ServiceAction: "github.A.push"}
	require.NoError(t, f.store.PutAction(ctx, action))

	for i := range reactions {
		reactions[i].AreaID = "ar1"
		require.NoError(t, f.store.PutReaction(ctx, &reactions[i]))
	}
	return action
}

func dequeueWorkable(t *testing.T, q *queue.Memory) *jobs.WorkableObject {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	qjob, err := q.Dequeue(ctx)
	require.NoError(t, err)
	w, err := jobs.DecodeWorkable(qjob.Payload)
	require.NoError(t, err)
	return w
}

func TestFire_EnqueuesWorkableObject(t *testing.T) {
	f := newFixture(t)
	f.seedArea(t, true, store.Reaction{
		ID:              "re1",
		ServiceReaction: "github.R.star",
		Options:         map[string]any{"owner": "o", "repo": "r"},
	})

	require.NoError(t, f.registry.RegisterService("github", fakeController{}))
	require.NoError(t, f.registry.RegisterReaction("github.R.star", &fakeReaction{
		prepared: map[string]any{"githubToken": "t"},
	}))

	f.dispatcher.Fire(context.Background(), jobs.TriggerObject{ActionID: "ac1"})

	require.Equal(t, 1, f.queue.Len())
	w := dequeueWorkable(t, f.queue)

	assert.Equal(t, "ac1", w.ActionID)
	assert.Equal(t, "github.A.push", w.ActionType)
	assert.Equal(t, "re1", w.ReactionID)
	assert.Equal(t, "github.R.star", w.ReactionType)
	assert.Equal(t, "ar1", w.AreaID)
	assert.Equal(t, "my area", w.AreaName)
	assert.Equal(t, "u1", w.OwnerID)
	assert.Equal(t, "u1@example.com", w.OwnerEmail)
	assert.Equal(t, map[string]any{"githubToken": "t"}, w.ReactionPreparedData)
	assert.Equal(t, map[string]any{"owner": "o", "repo": "r"}, w.ReactionOptions)

	// All 8 built-ins are present.
	names := placeholder.Names(w.Placeholders)
	for _, want := range []string{"actionId", "actionType", "reactionId", "reactionType", "areaId", "areaName", "ownerId", "ownerEmail"} {
		assert.Contains(t, names, want)
	}
}

func TestFire_BuiltinsOverrideCallerPlaceholders(t *testing.T) {
	f := newFixture(t)
	f.seedArea(t, true, store.Reaction{ID: "re1", ServiceReaction: "github.R.star"})

	require.NoError(t, f.registry.RegisterService("github", fakeController{}))
	require.NoError(t, f.registry.RegisterReaction("github.R.star", &fakeReaction{}))

	f.dispatcher.Fire(context.Background(), jobs.TriggerObject{
		ActionID: "ac1",
		Placeholders: []placeholder.Placeholder{
			{Name: "actionId", Value: "spoofed"},
			{Name: "commitMessage", Value: "fix stuff"},
		},
	})

	w := dequeueWorkable(t, f.queue)

	got, ok := placeholder.Lookup(w.Placeholders, "actionId")
	require.True(t, ok)
	assert.Equal(t, "ac1", got, "computed value must win over the caller's")

	// Exactly one actionId entry survives.
	count := 0
	for _, p := range w.Placeholders {
		if p.Name == "actionId" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	msg, ok := placeholder.Lookup(w.Placeholders, "commitMessage")
	require.True(t, ok)
	assert.Equal(t, "fix stuff", msg)
}

func TestFire_DisabledAreaNeverDispatches(t *testing.T) {
	f := newFixture(t)
	f.seedArea(t, false, store.Reaction{ID: "re1", ServiceReaction: "github.R.star"})

	require.NoError(t, f.registry.RegisterService("github", fakeController{}))
	require.NoError(t, f.registry.RegisterReaction("github.R.star", &fakeReaction{}))

	f.dispatcher.Fire(context.Background(), jobs.TriggerObject{ActionID: "ac1"})

	assert.Equal(t, 0, f.queue.Len())
}

func TestFire_NoReactionsIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.seedArea(t, true)

	f.dispatcher.Fire(context.Background(), jobs.TriggerObject{ActionID: "ac1"})

	assert.Equal(t, 0, f.queue.Len())
}

func TestFire_PrepareDataFailureSkipsOnlyThatReaction(t *testing.T) {
	f := newFixture(t)
	f.seedArea(t, true,
		store.Reaction{ID: "reA", ServiceReaction: "github.R.star"},
		store.Reaction{ID: "reB", ServiceReaction: "slack.R.notify"},
	)

	require.NoError(t, f.registry.RegisterService("github", fakeController{}))
	require.NoError(t, f.registry.RegisterService("slack", fakeController{}))
	require.NoError(t, f.registry.RegisterReaction("github.R.star", &fakeReaction{
		prepareErr: errors.New("token expired"),
	}))
	require.NoError(t, f.registry.RegisterReaction("slack.R.notify", &fakeReaction{}))

	f.dispatcher.Fire(context.Background(), jobs.TriggerObject{ActionID: "ac1"})

	require.Equal(t, 1, f.queue.Len())
	w := dequeueWorkable(t, f.queue)
	assert.Equal(t, "reB", w.ReactionID)
}

func TestFire_UnknownReactionHandlerSkipsOnlyThatReaction(t *testing.T) {
	f := newFixture(t)
	f.seedArea(t, true,
		store.Reaction{ID: "reA", ServiceReaction: "ghost.R.vanish"},
		store.Reaction{ID: "reB", ServiceReaction: "github.R.star"},
	)

	require.NoError(t, f.registry.RegisterService("github", fakeController{}))
	require.NoError(t, f.registry.RegisterReaction("github.R.star", &fakeReaction{}))

	f.dispatcher.Fire(context.Background(), jobs.TriggerObject{ActionID: "ac1"})

	require.Equal(t, 1, f.queue.Len())
	w := dequeueWorkable(t, f.queue)
	assert.Equal(t, "reB", w.ReactionID)
}

func TestFire_MissingActionIsAbsorbed(t *testing.T) {
	f := newFixture(t)

	// Must not panic or enqueue anything.
	f.dispatcher.Fire(context.Background(), jobs.TriggerObject{ActionID: "ghost"})

	assert.Equal(t, 0, f.queue.Len())
}

func TestFire_AdapterPanicIsRecovered(t *testing.T) {
	f := newFixture(t)
	f.seedArea(t, true, store.Reaction{ID: "re1", ServiceReaction: "github.R.star"})

	require.NoError(t, f.registry.RegisterService("github", fakeController{}))
	require.NoError(t, f.registry.RegisterReaction("github.R.star", &fakeReaction{panicOn: true}))

	assert.NotPanics(t, func() {
		f.dispatcher.Fire(context.Background(), jobs.TriggerObject{ActionID: "ac1"})
	})
	assert.Equal(t, 0, f.queue.Len())
}
