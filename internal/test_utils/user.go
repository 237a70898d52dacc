package test_utils

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/calsync/pkg/user"
	"github.com/stretchr/testify/require"
)

func TestUser() user.User {
	return user.User{
		Id:          123,
		Uid:         "test-user",
		Username:    "test_user",
		DisplayName: "Test User",
		Settings: user.Settings{
			Timezone:       "Asia/Seoul",
			GoogleCalendar: user.GoogleCalendarSettings{CalendarId: user.DefaultCalendarId},
		},
	}
}

// InsertTestUser stores TestUser (with a fresh id) for tables that reference users.
func InsertTestUser(t *testing.T, ctx context.Context, db *pgxpool.Pool) user.User {
	t.Helper()
	u := TestUser()
	id, err := user.NewRepo(db).CreateUser(ctx, u)
	require.NoError(t, err)
	u.Id = id
	return u
}
