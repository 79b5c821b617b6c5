//go:build integration
// +build integration

package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strideworks/stride/internal/log"
	"github.com/strideworks/stride/internal/testutil"
)

func goalContent(weight int) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"target_weight_kg": weight})
	return raw
}

func TestDraftCreatesVersionOne(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	a, err := store.Draft(ctx, "owner-1", KindGoalContract, goalContent(80))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.NotEqual(t, uuid.Nil, a.LineageID)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, StatusDraft, a.Status)
	assert.Nil(t, a.ApprovedAt)
	assert.Nil(t, a.ActivatedAt)

	got, err := store.Get(ctx, a.LineageID, 1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.JSONEq(t, string(goalContent(80)), string(got.Content))
}

func TestDraftRejectsInvalidContent(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	_, err := store.Draft(ctx, "owner-1", KindGoalContract, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidContent)

	_, err = store.Draft(ctx, "owner-1", Kind("diary"), goalContent(80))
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestEditAppendsNewVersion(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	v1, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(80))
	require.NoError(t, err)

	v2, err := store.Edit(ctx, v1.LineageID, 1, goalContent(78), "lower the target")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, StatusDraft, v2.Status)

	// Prior versions stay untouched.
	got, err := store.Get(ctx, v1.LineageID, 1)
	require.NoError(t, err)
	assert.JSONEq(t, string(goalContent(80)), string(got.Content))

	versions, err := store.Versions(ctx, v1.LineageID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Version)
	assert.Equal(t, 2, versions[1].Version)
}

func TestEditStaleBaseVersionFails(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	v1, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(80))
	require.NoError(t, err)
	_, err = store.Edit(ctx, v1.LineageID, 1, goalContent(79), "")
	require.NoError(t, err)
	v3, err := store.Edit(ctx, v1.LineageID, 2, goalContent(78), "")
	require.NoError(t, err)
	_, err = store.Approve(ctx, v1.LineageID, 3, "owner-1")
	require.NoError(t, err)

	// Editing superseded versions fails without creating anything.
	_, err = store.Edit(ctx, v1.LineageID, 1, goalContent(77), "")
	assert.ErrorIs(t, err, ErrVersionConflict)
	_, err = store.Edit(ctx, v1.LineageID, 2, goalContent(77), "")
	assert.ErrorIs(t, err, ErrVersionConflict)

	// Editing the approved latest fails too.
	_, err = store.Edit(ctx, v1.LineageID, 3, goalContent(77), "")
	assert.ErrorIs(t, err, ErrNotDraft)

	versions, err := store.Versions(ctx, v1.LineageID)
	require.NoError(t, err)
	assert.Len(t, versions, 3)
	assert.Equal(t, v3.ID, versions[2].ID)
}

func TestRejectedEditNeverAdvancesVersion(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	v1, err := store.Draft(ctx, "owner-1", KindWorkout, goalContent(80))
	require.NoError(t, err)

	_, err = store.Edit(ctx, v1.LineageID, 1, json.RawMessage(`not json`), "")
	assert.ErrorIs(t, err, ErrInvalidContent)

	latest, err := store.Latest(ctx, v1.LineageID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
}

func TestApproveAndDefer(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	a, err := store.Draft(ctx, "owner-1", KindGoalContract, goalContent(80))
	require.NoError(t, err)

	approved, err := store.Approve(ctx, a.LineageID, 1, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	// Approving twice fails.
	_, err = store.Approve(ctx, a.LineageID, 1, "owner-1")
	assert.ErrorIs(t, err, ErrNotDraft)

	b, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(80))
	require.NoError(t, err)
	deferred, err := store.Defer(ctx, b.LineageID, 1, "starting next month")
	require.NoError(t, err)
	assert.Equal(t, StatusDeferred, deferred.Status)

	// A deferred version cannot be approved or activated.
	_, err = store.Approve(ctx, b.LineageID, 1, "owner-1")
	assert.ErrorIs(t, err, ErrNotDraft)
	_, _, err = store.Activate(ctx, b.LineageID, 1, nil)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestActivateSwapsPointerAndArchivesPrevious(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	first, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(80))
	require.NoError(t, err)
	_, err = store.Approve(ctx, first.LineageID, 1, "owner-1")
	require.NoError(t, err)

	none, err := store.ActivePointer(ctx, "owner-1", KindProgram)
	require.NoError(t, err)
	assert.Nil(t, none)

	activated, ptr, err := store.Activate(ctx, first.LineageID, 1, none)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, activated.Status)
	require.NotNil(t, activated.ActivatedAt)
	assert.Equal(t, activated.ID, ptr.ArtifactID)
	assert.Equal(t, 1, ptr.Version)

	active, err := store.Active(ctx, "owner-1", KindProgram)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	// Activating a second lineage of the same kind archives the first.
	second, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(75))
	require.NoError(t, err)
	_, err = store.Approve(ctx, second.LineageID, 1, "owner-1")
	require.NoError(t, err)

	current, err := store.ActivePointer(ctx, "owner-1", KindProgram)
	require.NoError(t, err)
	_, ptr2, err := store.Activate(ctx, second.LineageID, 1, current)
	require.NoError(t, err)
	assert.Equal(t, second.ID, ptr2.ArtifactID)

	archived, err := store.Get(ctx, first.LineageID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status)

	active, err = store.Active(ctx, "owner-1", KindProgram)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestActivateStalePointerFails(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	a, err := store.Draft(ctx, "owner-1", KindGoalContract, goalContent(80))
	require.NoError(t, err)
	_, err = store.Approve(ctx, a.LineageID, 1, "owner-1")
	require.NoError(t, err)

	// Both requests read the pointer before either activates.
	stale, err := store.ActivePointer(ctx, "owner-1", KindGoalContract)
	require.NoError(t, err)
	require.Nil(t, stale)

	_, _, err = store.Activate(ctx, a.LineageID, 1, stale)
	require.NoError(t, err)

	_, _, err = store.Activate(ctx, a.LineageID, 1, stale)
	assert.ErrorIs(t, err, ErrPointerMoved)
}

func TestConcurrentActivationExactlyOneWins(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	a, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(80))
	require.NoError(t, err)
	_, err = store.Approve(ctx, a.LineageID, 1, "owner-1")
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = store.Activate(ctx, a.LineageID, 1, nil)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrPointerMoved):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
}

func TestConcurrentFirstActivationsOfDistinctLineages(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	// Two independent lineages for the same owner and kind. Neither
	// activation has a pointer row to lock, so they race on the
	// single-active index instead.
	lineages := make([]uuid.UUID, 2)
	for i := range lineages {
		a, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(80+i))
		require.NoError(t, err)
		_, err = store.Approve(ctx, a.LineageID, 1, "owner-1")
		require.NoError(t, err)
		lineages[i] = a.LineageID
	}

	var wg sync.WaitGroup
	errs := make([]error, len(lineages))
	for i, lineageID := range lineages {
		wg.Add(1)
		go func(i int, lineageID uuid.UUID) {
			defer wg.Done()
			_, _, errs[i] = store.Activate(ctx, lineageID, 1, nil)
		}(i, lineageID)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrPointerMoved):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM artifacts
		WHERE owner_id = $1 AND kind = $2 AND status = 'active'`,
		"owner-1", string(KindProgram)).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAtMostOneActivePerOwnerAndKind(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a, err := store.Draft(ctx, "owner-1", KindWorkout, goalContent(80+i))
		require.NoError(t, err)
		_, err = store.Approve(ctx, a.LineageID, 1, "owner-1")
		require.NoError(t, err)
		ptr, err := store.ActivePointer(ctx, "owner-1", KindWorkout)
		require.NoError(t, err)
		_, _, err = store.Activate(ctx, a.LineageID, 1, ptr)
		require.NoError(t, err)
	}

	var count int
	err := db.Pool.QueryRow(ctx, `
		SELECT count(*) FROM artifacts
		WHERE owner_id = $1 AND kind = $2 AND status = 'active'`,
		"owner-1", string(KindWorkout)).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRedraftFromApproved(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	a, err := store.Draft(ctx, "owner-1", KindGoalContract, goalContent(80))
	require.NoError(t, err)
	_, err = store.Approve(ctx, a.LineageID, 1, "owner-1")
	require.NoError(t, err)

	v2, err := store.Redraft(ctx, a.LineageID, goalContent(78), "revise after review")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, StatusDraft, v2.Status)

	// The approved v1 is unchanged.
	v1, err := store.Get(ctx, a.LineageID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, v1.Status)
}

func TestHistoryRecordsLifecycle(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	store := New(db.Pool, log.NewNop())
	ctx := context.Background()

	a, err := store.Draft(ctx, "owner-1", KindProgram, goalContent(80))
	require.NoError(t, err)
	v2, err := store.Edit(ctx, a.LineageID, 1, goalContent(79), "drop a kilo")
	require.NoError(t, err)
	_, err = store.Approve(ctx, a.LineageID, 2, "owner-1")
	require.NoError(t, err)
	_, _, err = store.Activate(ctx, a.LineageID, 2, nil)
	require.NoError(t, err)

	events, err := store.History(ctx, a.LineageID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, AuditDraft, events[0].Type)
	assert.Equal(t, AuditEdit, events[1].Type)
	assert.Equal(t, AuditApprove, events[2].Type)
	assert.Equal(t, AuditActivate, events[3].Type)
	assert.Equal(t, v2.ID, events[1].ArtifactID)

	var edit struct {
		Instruction string `json:"instruction"`
		FromVersion int    `json:"from_version"`
	}
	require.NoError(t, json.Unmarshal(events[1].Payload, &edit))
	assert.Equal(t, "drop a kilo", edit.Instruction)
	assert.Equal(t, 1, edit.FromVersion)
}
