package status

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-taskrunner/types"
)

type repoFactory struct {
	name string
	new  func(t *testing.T) Repo
}

func repoFactories() []repoFactory {
	return []repoFactory{
		{
			name: "memory",
			new:  func(t *testing.T) Repo { return NewMemoryRepo() },
		},
		{
			name: "leveldb",
			new: func(t *testing.T) Repo {
				r, err := NewInMemoryLevelDBRepo("job-a", log.New())
				require.NoError(t, err)
				t.Cleanup(func() { _ = r.Close() })
				return r
			},
		},
	}
}

func event(id types.TaskID, status types.Lifecycle, at time.Time) types.StatusEvent {
	return types.StatusEvent{TaskID: id, Status: status, Time: at}
}

func eventsFor(t *testing.T, repo Repo, id types.TaskID) []types.StatusEvent {
	t.Helper()
	events, err := repo.EventsFor(id)
	require.NoError(t, err)
	return events
}

func TestRepoRecordAndEventsFor(t *testing.T) {
	base := time.Unix(1700000000, 0)
	a := types.NewTaskID("suite", 1, "/bin/true", "", 2)
	b := types.NewTaskID("suite", 2, "/bin/false", "", 2)

	for _, f := range repoFactories() {
		t.Run(f.name, func(t *testing.T) {
			repo := f.new(t)

			assert.Empty(t, eventsFor(t, repo, a), "unknown identity should have no events")

			require.NoError(t, repo.Record(event(a, types.LifecycleStarted, base)))
			require.NoError(t, repo.Record(event(b, types.LifecycleStarted, base.Add(time.Second))))
			require.NoError(t, repo.Record(event(a, types.LifecycleRunning, base.Add(2*time.Second))))
			finished := event(a, types.LifecycleFinished, base.Add(3*time.Second))
			finished.Result = types.OutcomePass
			finished.Stdout = []byte("hello\n")
			require.NoError(t, repo.Record(finished))

			evA := eventsFor(t, repo, a)
			require.Len(t, evA, 3)
			assert.Equal(t, types.LifecycleStarted, evA[0].Status)
			assert.Equal(t, types.LifecycleRunning, evA[1].Status)
			assert.Equal(t, types.LifecycleFinished, evA[2].Status)
			assert.Equal(t, types.OutcomePass, evA[2].Result)
			assert.Equal(t, []byte("hello\n"), evA[2].Stdout)
			assert.Nil(t, evA[0].Stdout)
			for i := 1; i < len(evA); i++ {
				assert.False(t, evA[i].Time.Before(evA[i-1].Time), "events must be in non-decreasing time order")
			}
			for _, ev := range evA {
				assert.Equal(t, a, ev.TaskID, "no cross-contamination between identities")
			}

			evB := eventsFor(t, repo, b)
			require.Len(t, evB, 1)
			assert.True(t, evB[0].Time.Equal(base.Add(time.Second)))

			lister, ok := repo.(Lister)
			require.True(t, ok)
			assert.Equal(t, []types.TaskID{a, b}, lister.TaskIDs())
		})
	}
}

func TestRepoSnapshotIsolation(t *testing.T) {
	id := types.NewTaskID("suite", 1, "x", "", 1)
	for _, f := range repoFactories() {
		t.Run(f.name, func(t *testing.T) {
			repo := f.new(t)
			ev := event(id, types.LifecycleStarted, time.Unix(1, 0))
			ev.Stdout = []byte("abc")
			require.NoError(t, repo.Record(ev))

			// Mutating the caller's copy must not change the stored event
			ev.Stdout[0] = 'X'

			snapshot := eventsFor(t, repo, id)
			require.Len(t, snapshot, 1)
			assert.Equal(t, []byte("abc"), snapshot[0].Stdout)

			require.NoError(t, repo.Record(event(id, types.LifecycleFinished, time.Unix(2, 0))))
			assert.Len(t, snapshot, 1, "later appends must not change a returned snapshot")
			assert.Len(t, eventsFor(t, repo, id), 2)

			snapshot[0].Stdout[0] = 'Y'
			assert.Equal(t, []byte("abc"), eventsFor(t, repo, id)[0].Stdout)
		})
	}
}

func TestRepoRejectsMissingID(t *testing.T) {
	for _, f := range repoFactories() {
		t.Run(f.name, func(t *testing.T) {
			err := f.new(t).Record(types.StatusEvent{Status: types.LifecycleStarted})
			assert.ErrorIs(t, err, ErrMissingTaskID)
		})
	}
}

func TestLevelDBRepoEmptyCaptureSurvives(t *testing.T) {
	repo, err := NewInMemoryLevelDBRepo("job-a", log.New())
	require.NoError(t, err)
	defer repo.Close()

	id := types.NewTaskID("suite", 1, "x", "", 1)
	ev := event(id, types.LifecycleFinished, time.Unix(5, 0))
	ev.Stdout = []byte{}
	require.NoError(t, repo.Record(ev))

	got := eventsFor(t, repo, id)
	require.Len(t, got, 1)
	assert.NotNil(t, got[0].Stdout, "empty capture must stay distinct from absent capture")
	assert.Empty(t, got[0].Stdout)
	assert.Nil(t, got[0].Stderr)
}

func TestLevelDBRepoReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	id := types.NewTaskID("suite", 1, "x", "", 1)

	repo, err := OpenLevelDBRepo(path, "job-a", log.New())
	require.NoError(t, err)
	require.NoError(t, repo.Record(event(id, types.LifecycleStarted, time.Unix(1, 0))))
	require.NoError(t, repo.Record(event(id, types.LifecycleRunning, time.Unix(2, 0))))
	require.NoError(t, repo.Close())

	repo, err = OpenLevelDBRepo(path, "job-a", log.New())
	require.NoError(t, err)
	defer repo.Close()

	assert.Equal(t, []types.TaskID{id}, repo.TaskIDs())
	require.NoError(t, repo.Record(event(id, types.LifecycleFinished, time.Unix(3, 0))))

	got := eventsFor(t, repo, id)
	require.Len(t, got, 3)
	assert.Equal(t, types.LifecycleFinished, got[2].Status, "appends after reopen keep arrival order")
}

func TestLevelDBRepoJobsShareDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.db")
	// Both jobs run the same suite, so their task identities collide
	id := types.NewTaskID("suite", 1, "x", "", 1)

	first, err := OpenLevelDBRepo(path, "job-a", log.New())
	require.NoError(t, err)
	require.NoError(t, first.Record(event(id, types.LifecycleStarted, time.Unix(1, 0))))
	finished := event(id, types.LifecycleFinished, time.Unix(2, 0))
	finished.Result = types.OutcomeFail
	require.NoError(t, first.Record(finished))
	require.NoError(t, first.Close())

	second, err := OpenLevelDBRepo(path, "job-b", log.New())
	require.NoError(t, err)
	assert.Empty(t, second.TaskIDs(), "a new job starts with no tasks")
	assert.Empty(t, eventsFor(t, second, id), "a new job sees none of an earlier job's events")

	require.NoError(t, second.Record(event(id, types.LifecycleStarted, time.Unix(100, 0))))
	got := eventsFor(t, second, id)
	require.Len(t, got, 1)
	assert.True(t, got[0].Time.Equal(time.Unix(100, 0)))
	require.NoError(t, second.Close())

	first, err = OpenLevelDBRepo(path, "job-a", log.New())
	require.NoError(t, err)
	defer first.Close()
	got = eventsFor(t, first, id)
	require.Len(t, got, 2, "the earlier job's stream is left untouched")
	assert.Equal(t, types.OutcomeFail, got[1].Result)
}

func TestLevelDBRepoRequiresJobID(t *testing.T) {
	_, err := NewInMemoryLevelDBRepo("", log.New())
	assert.ErrorIs(t, err, ErrMissingJobID)
	_, err = OpenLevelDBRepo(filepath.Join(t.TempDir(), "status.db"), "", log.New())
	assert.ErrorIs(t, err, ErrMissingJobID)
}

func TestLevelDBRepoCorruptEventFailsRead(t *testing.T) {
	repo, err := NewInMemoryLevelDBRepo("job-a", log.New())
	require.NoError(t, err)
	defer repo.Close()

	id := types.NewTaskID("suite", 1, "x", "", 1)
	require.NoError(t, repo.Record(event(id, types.LifecycleStarted, time.Unix(1, 0))))
	require.NoError(t, repo.Record(event(id, types.LifecycleFinished, time.Unix(2, 0))))
	require.NoError(t, repo.db.Put(repo.eventKey(id, 0), []byte("{not json"), nil))

	events, err := repo.EventsFor(id)
	require.ErrorIs(t, err, ErrCorruptEvent)
	assert.Nil(t, events, "no partial stream is returned")
}
