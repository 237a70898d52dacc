package user_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/calsync/internal/test_utils"
	"github.com/klokku/calsync/pkg/user"
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
	code := m.Run()
	if err := testcontainers.TerminateContainer(pgContainer); err != nil {
		log.Errorf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

func setupRepo(t *testing.T) (context.Context, *user.RepoImpl, *pgxpool.Pool) {
	ctx := context.Background()
	db := openDb()
	t.Cleanup(func() {
		db.Close()
		require.NoError(t, pgContainer.Restore(ctx))
	})
	return ctx, user.NewRepo(db), db
}

func TestRepoImpl(t *testing.T) {
	t.Run("should store and read back a user", func(t *testing.T) {
		// given
		ctx, repo, db := setupRepo(t)
		stored := test_utils.InsertTestUser(t, ctx, db)

		// when
		byId, err := repo.GetUser(ctx, stored.Id)
		require.NoError(t, err)
		byUid, err := repo.GetUserByUid(ctx, stored.Uid)
		require.NoError(t, err)

		// then
		assert.Equal(t, stored, byId)
		assert.Equal(t, stored, byUid)
	})

	t.Run("should report a missing user", func(t *testing.T) {
		// given
		ctx, repo, _ := setupRepo(t)

		// when
		_, err := repo.GetUserByUid(ctx, "nobody")

		// then
		assert.ErrorIs(t, err, user.ErrUserNotFound)
	})

	t.Run("should update settings", func(t *testing.T) {
		// given
		ctx, repo, db := setupRepo(t)
		stored := test_utils.InsertTestUser(t, ctx, db)
		settings := user.Settings{
			Timezone:       "Europe/Warsaw",
			GoogleCalendar: user.GoogleCalendarSettings{CalendarId: "school@group.calendar.google.com"},
		}

		// when
		err := repo.UpdateSettings(ctx, stored.Id, settings)
		require.NoError(t, err)
		updated, err := repo.GetUser(ctx, stored.Id)

		// then
		require.NoError(t, err)
		assert.Equal(t, settings, updated.Settings)
	})
}
