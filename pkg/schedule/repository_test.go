package schedule_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/calsync/internal/test_utils"
	. "github.com/klokku/calsync/pkg/schedule"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var pgContainer *postgres.PostgresContainer
var openDb func() *pgxpool.Pool

func TestMain(m *testing.M) {
	pgContainer, openDb = test_utils.TestWithDB()
	defer func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			log.Errorf("failed to terminate container: %s", err)
		}
	}()
	code := m.Run()
	os.Exit(code)
}

const ownerId = 1001

func setupTestRepository(t *testing.T) (context.Context, *RepositoryImpl) {
	ctx := context.Background()
	db := openDb()
	repository := NewRepository(db)
	t.Cleanup(func() {
		db.Close()
		err := pgContainer.Restore(ctx)
		require.NoError(t, err)
	})

	require.NoError(t, repository.InsertSubject(ctx, Subject{
		Id:       "subj-1",
		OwnerId:  ownerId,
		Code:     "CS101",
		Name:     "Algorithms",
		Color:    "#039be5",
		Metadata: map[string]any{"credits": float64(3)},
	}))
	require.NoError(t, repository.InsertSection(ctx, Section{
		Id:        "sec-1",
		SubjectId: "subj-1",
		Code:      "A",
		Teacher:   "Kim",
		Room:      "B-201",
		Rules: []RecurrenceRule{
			{
				DayOfWeek: time.Monday,
				StartTime: MustClockTime("09:00"),
				EndTime:   MustClockTime("10:30"),
				StartDate: MustDate("2024-03-04"),
				EndDate:   MustDate("2024-06-14"),
				SkipDates: []time.Time{MustDate("2024-04-15")},
			},
		},
	}))
	return ctx, repository
}

func insertEvent(t *testing.T, ctx context.Context, repo *RepositoryImpl, id, date string, status EventStatus) {
	event := LocalEvent{
		Id:        id,
		OwnerId:   ownerId,
		SubjectId: "subj-1",
		SectionId: "sec-1",
		Date:      MustDate(date),
		StartTime: MustClockTime("09:00"),
		EndTime:   MustClockTime("10:30"),
		Status:    status,
	}
	if status == StatusSynced {
		event.RemoteId = "remote-" + id
		event.RemoteVersion = `"1"`
	}
	require.NoError(t, repo.InsertEvent(ctx, event))
}

func TestRepositoryImpl_SelectByOwnerAndRange(t *testing.T) {
	t.Run("should return events within range ordered by date", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e2", "2024-03-11", StatusPlanned)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusPlanned)
		insertEvent(t, ctx, repo, "e3", "2024-04-01", StatusPlanned)

		// when
		events, err := repo.SelectByOwnerAndRange(ctx, ownerId, DateRange{
			From: MustDate("2024-03-01"),
			To:   MustDate("2024-03-31"),
		}, Filter{})

		// then
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "e1", events[0].Id)
		assert.Equal(t, "e2", events[1].Id)
		assert.Equal(t, MustClockTime("09:00"), events[0].StartTime)
		assert.Equal(t, MustClockTime("10:30"), events[0].EndTime)
		assert.Equal(t, StatusPlanned, events[0].Status)
		assert.Empty(t, events[0].RemoteId)
	})

	t.Run("should filter by status and event ids", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusPlanned)
		insertEvent(t, ctx, repo, "e2", "2024-03-05", StatusSynced)
		insertEvent(t, ctx, repo, "e3", "2024-03-06", StatusDeleted)
		dateRange := DateRange{From: MustDate("2024-03-01"), To: MustDate("2024-03-31")}

		// when
		byStatus, err := repo.SelectByOwnerAndRange(ctx, ownerId, dateRange, Filter{
			Statuses: []EventStatus{StatusPlanned, StatusSynced},
		})
		require.NoError(t, err)
		byId, err := repo.SelectByOwnerAndRange(ctx, ownerId, dateRange, Filter{
			Statuses: []EventStatus{StatusPlanned, StatusSynced},
			EventIds: []string{"e2", "e3"},
		})
		require.NoError(t, err)

		// then
		require.Len(t, byStatus, 2)
		require.Len(t, byId, 1)
		assert.Equal(t, "e2", byId[0].Id)
		assert.Equal(t, "remote-e2", byId[0].RemoteId)
		assert.Equal(t, `"1"`, byId[0].RemoteVersion)
	})

	t.Run("should not return events of other owners", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusPlanned)

		// when
		events, err := repo.SelectByOwnerAndRange(ctx, 42, DateRange{
			From: MustDate("2024-03-01"),
			To:   MustDate("2024-03-31"),
		}, Filter{})

		// then
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestRepositoryImpl_SelectByRemoteIds(t *testing.T) {
	t.Run("should return every synced event of the remote events regardless of date", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusPlanned)
		insertEvent(t, ctx, repo, "e2", "2024-05-06", StatusPlanned)
		insertEvent(t, ctx, repo, "e3", "2024-03-11", StatusSynced)
		insertEvent(t, ctx, repo, "e4", "2024-03-18", StatusPlanned)
		_, err := repo.UpdateFields(ctx, ownerId, []string{"e1", "e2"}, Linked("g-1", `"4"`))
		require.NoError(t, err)

		// when
		events, err := repo.SelectByRemoteIds(ctx, ownerId, []string{"g-1"})

		// then
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "e1", events[0].Id)
		assert.Equal(t, "e2", events[1].Id)
		assert.Equal(t, `"4"`, events[1].RemoteVersion)
	})

	t.Run("should ignore other owners and empty input", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusSynced)

		// when
		others, err := repo.SelectByRemoteIds(ctx, ownerId+1, []string{"remote-e1"})
		require.NoError(t, err)
		none, err := repo.SelectByRemoteIds(ctx, ownerId, nil)
		require.NoError(t, err)

		// then
		assert.Empty(t, others)
		assert.Empty(t, none)
	})
}

func TestRepositoryImpl_UpdateFields(t *testing.T) {
	t.Run("should link all given events in one update", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusPlanned)
		insertEvent(t, ctx, repo, "e2", "2024-03-11", StatusPlanned)

		// when
		affected, err := repo.UpdateFields(ctx, ownerId, []string{"e1", "e2"}, Linked("g-1", `"42"`))

		// then
		require.NoError(t, err)
		assert.Equal(t, int64(2), affected)
		events, err := repo.GetEventsByIds(ctx, ownerId, []string{"e1", "e2"})
		require.NoError(t, err)
		for _, event := range events {
			assert.Equal(t, StatusSynced, event.Status)
			assert.Equal(t, "g-1", event.RemoteId)
			assert.Equal(t, `"42"`, event.RemoteVersion)
		}
	})

	t.Run("should clear link when unlinking", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusSynced)

		// when
		_, err := repo.UpdateFields(ctx, ownerId, []string{"e1"}, Unlinked())

		// then
		require.NoError(t, err)
		events, err := repo.GetEventsByIds(ctx, ownerId, []string{"e1"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, StatusPlanned, events[0].Status)
		assert.Empty(t, events[0].RemoteId)
		assert.Empty(t, events[0].RemoteVersion)
	})

	t.Run("should reject synced update without version", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)
		insertEvent(t, ctx, repo, "e1", "2024-03-04", StatusPlanned)

		// when
		_, err := repo.UpdateFields(ctx, ownerId, []string{"e1"}, FieldUpdate{Status: StatusSynced, RemoteId: "g-1"})

		// then
		assert.ErrorIs(t, err, ErrInvalidFieldUpdate)
	})
}

func TestRepositoryImpl_SubjectsAndSections(t *testing.T) {
	t.Run("should read subject metadata and section rules", func(t *testing.T) {
		// given
		ctx, repo := setupTestRepository(t)

		// when
		subjects, err := repo.GetSubjects(ctx, ownerId, []string{"subj-1", "missing"})
		require.NoError(t, err)
		sections, err := repo.GetSections(ctx, []string{"sec-1"})
		require.NoError(t, err)

		// then
		require.Len(t, subjects, 1)
		assert.Equal(t, "Algorithms", subjects["subj-1"].Name)
		assert.Equal(t, float64(3), subjects["subj-1"].Metadata["credits"])
		require.Len(t, sections, 1)
		section := sections["sec-1"]
		assert.Equal(t, "Kim", section.Teacher)
		require.Len(t, section.Rules, 1)
		assert.Equal(t, time.Monday, section.Rules[0].DayOfWeek)
		assert.Equal(t, MustClockTime("10:30"), section.Rules[0].EndTime)
		require.Len(t, section.Rules[0].SkipDates, 1)
		assert.True(t, MustDate("2024-04-15").Equal(section.Rules[0].SkipDates[0]))
	})
}
