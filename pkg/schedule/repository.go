package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// ErrStore wraps every failure reading or writing local events.
var ErrStore = errors.New("schedule store failure")

type Repository interface {
	SelectByOwnerAndRange(ctx context.Context, ownerId int, dateRange DateRange, filter Filter) ([]LocalEvent, error)
	GetEventsByIds(ctx context.Context, ownerId int, ids []string) ([]LocalEvent, error)
	// SelectByRemoteIds returns the synced events linked to any of the remote events, whatever their date.
	SelectByRemoteIds(ctx context.Context, ownerId int, remoteIds []string) ([]LocalEvent, error)
	// UpdateFields stamps status and remote link of the given events in a single statement.
	UpdateFields(ctx context.Context, ownerId int, eventIds []string, update FieldUpdate) (int64, error)
	GetSubjects(ctx context.Context, ownerId int, ids []string) (map[string]Subject, error)
	GetSections(ctx context.Context, ids []string) (map[string]Section, error)
}

type RepositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *RepositoryImpl {
	return &RepositoryImpl{db: db}
}

const eventColumns = `id, owner_id, subject_id, section_id, event_date, start_time, end_time, room, status,
				remote_id, remote_version, created_at, updated_at`

func (r *RepositoryImpl) SelectByOwnerAndRange(ctx context.Context, ownerId int, dateRange DateRange, filter Filter) ([]LocalEvent, error) {
	query := `SELECT ` + eventColumns + `
			  FROM schedule_event
			  WHERE owner_id = $1
			    AND event_date >= $2
			    AND event_date <= $3`
	args := []any{ownerId, dateRange.From, dateRange.To}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		query += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if len(filter.EventIds) > 0 {
		args = append(args, filter.EventIds)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	query += " ORDER BY event_date, start_time, id"

	return r.queryEvents(ctx, query, args...)
}

func (r *RepositoryImpl) GetEventsByIds(ctx context.Context, ownerId int, ids []string) ([]LocalEvent, error) {
	if len(ids) == 0 {
		return []LocalEvent{}, nil
	}
	query := `SELECT ` + eventColumns + `
			  FROM schedule_event
			  WHERE owner_id = $1 AND id = ANY($2)
			  ORDER BY event_date, start_time, id`
	return r.queryEvents(ctx, query, ownerId, ids)
}

func (r *RepositoryImpl) SelectByRemoteIds(ctx context.Context, ownerId int, remoteIds []string) ([]LocalEvent, error) {
	if len(remoteIds) == 0 {
		return []LocalEvent{}, nil
	}
	query := `SELECT ` + eventColumns + `
			  FROM schedule_event
			  WHERE owner_id = $1 AND status = $2 AND remote_id = ANY($3)
			  ORDER BY event_date, start_time, id`
	return r.queryEvents(ctx, query, ownerId, string(StatusSynced), remoteIds)
}

func (r *RepositoryImpl) queryEvents(ctx context.Context, query string, args ...any) ([]LocalEvent, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		err := fmt.Errorf("%w: could not query schedule events: %v", ErrStore, err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	events := make([]LocalEvent, 0, 16)
	for rows.Next() {
		var event LocalEvent
		var startTime, endTime pgtype.Time
		var room, remoteId, remoteVersion pgtype.Text
		var status string
		err := rows.Scan(
			&event.Id,
			&event.OwnerId,
			&event.SubjectId,
			&event.SectionId,
			&event.Date,
			&startTime,
			&endTime,
			&room,
			&status,
			&remoteId,
			&remoteVersion,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			err := fmt.Errorf("%w: could not scan schedule event: %v", ErrStore, err)
			log.Error(err)
			return nil, err
		}
		event.StartTime = clockTimeFromPg(startTime)
		event.EndTime = clockTimeFromPg(endTime)
		event.Room = room.String
		event.Status = EventStatus(status)
		event.RemoteId = remoteId.String
		event.RemoteVersion = remoteVersion.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error during row iteration: %v", ErrStore, err)
	}
	return events, nil
}

func (r *RepositoryImpl) UpdateFields(ctx context.Context, ownerId int, eventIds []string, update FieldUpdate) (int64, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}
	if len(eventIds) == 0 {
		return 0, nil
	}
	query := `UPDATE schedule_event
			  SET status = $1, remote_id = $2, remote_version = $3, updated_at = now()
			  WHERE owner_id = $4 AND id = ANY($5)`
	tag, err := r.db.Exec(ctx, query, string(update.Status), nullText(update.RemoteId), nullText(update.RemoteVersion), ownerId, eventIds)
	if err != nil {
		err := fmt.Errorf("%w: could not update schedule events: %v", ErrStore, err)
		log.Error(err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *RepositoryImpl) GetSubjects(ctx context.Context, ownerId int, ids []string) (map[string]Subject, error) {
	result := make(map[string]Subject, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, code, name, color, metadata FROM subject WHERE owner_id = $1 AND id = ANY($2)`,
		ownerId, ids)
	if err != nil {
		err := fmt.Errorf("%w: could not query subjects: %v", ErrStore, err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var subject Subject
		var metadata []byte
		if err := rows.Scan(&subject.Id, &subject.OwnerId, &subject.Code, &subject.Name, &subject.Color, &metadata); err != nil {
			return nil, fmt.Errorf("%w: could not scan subject: %v", ErrStore, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &subject.Metadata); err != nil {
				return nil, fmt.Errorf("%w: subject %s has invalid metadata: %v", ErrStore, subject.Id, err)
			}
		}
		result[subject.Id] = subject
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error during row iteration: %v", ErrStore, err)
	}
	return result, nil
}

func (r *RepositoryImpl) GetSections(ctx context.Context, ids []string) (map[string]Section, error) {
	result := make(map[string]Section, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, subject_id, code, teacher, room FROM section WHERE id = ANY($1)`, ids)
	if err != nil {
		err := fmt.Errorf("%w: could not query sections: %v", ErrStore, err)
		log.Error(err)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var section Section
		if err := rows.Scan(&section.Id, &section.SubjectId, &section.Code, &section.Teacher, &section.Room); err != nil {
			return nil, fmt.Errorf("%w: could not scan section: %v", ErrStore, err)
		}
		section.Rules = []RecurrenceRule{}
		result[section.Id] = section
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error during row iteration: %v", ErrStore, err)
	}

	if err := r.loadRules(ctx, ids, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *RepositoryImpl) loadRules(ctx context.Context, sectionIds []string, sections map[string]Section) error {
	rows, err := r.db.Query(ctx,
		`SELECT section_id, day_of_week, start_time, end_time, start_date, end_date, skip_dates
				FROM section_rule
				WHERE section_id = ANY($1)
				ORDER BY section_id, position`, sectionIds)
	if err != nil {
		err := fmt.Errorf("%w: could not query section rules: %v", ErrStore, err)
		log.Error(err)
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sectionId string
		var dayOfWeek int
		var startTime, endTime pgtype.Time
		var rule RecurrenceRule
		if err := rows.Scan(&sectionId, &dayOfWeek, &startTime, &endTime, &rule.StartDate, &rule.EndDate, &rule.SkipDates); err != nil {
			return fmt.Errorf("%w: could not scan section rule: %v", ErrStore, err)
		}
		rule.DayOfWeek = time.Weekday(dayOfWeek)
		rule.StartTime = clockTimeFromPg(startTime)
		rule.EndTime = clockTimeFromPg(endTime)
		section := sections[sectionId]
		section.Rules = append(section.Rules, rule)
		sections[sectionId] = section
	}
	return rows.Err()
}

func clockTimeFromPg(t pgtype.Time) ClockTime {
	minutes := t.Microseconds / int64(time.Minute/time.Microsecond)
	return ClockTime{Hour: int(minutes / 60), Minute: int(minutes % 60)}
}

// ClockTimeToPg converts a wall-clock time for a TIME column.
func ClockTimeToPg(c ClockTime) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c.Minutes()) * int64(time.Minute/time.Microsecond), Valid: true}
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// InsertSubject stores a subject. Subjects are owned by the timetable editor, the sync engine only reads them.
func (r *RepositoryImpl) InsertSubject(ctx context.Context, subject Subject) error {
	metadata, err := json.Marshal(subject.Metadata)
	if err != nil {
		return fmt.Errorf("%w: could not encode subject metadata: %v", ErrStore, err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO subject (id, owner_id, code, name, color, metadata) VALUES ($1, $2, $3, $4, $5, $6)`,
		subject.Id, subject.OwnerId, subject.Code, subject.Name, subject.Color, metadata)
	if err != nil {
		return fmt.Errorf("%w: could not insert subject: %v", ErrStore, err)
	}
	return nil
}

func (r *RepositoryImpl) InsertSection(ctx context.Context, section Section) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: could not begin transaction: %v", ErrStore, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO section (id, subject_id, code, teacher, room) VALUES ($1, $2, $3, $4, $5)`,
		section.Id, section.SubjectId, section.Code, section.Teacher, section.Room)
	if err != nil {
		return fmt.Errorf("%w: could not insert section: %v", ErrStore, err)
	}

	batch := &pgx.Batch{}
	for i, rule := range section.Rules {
		skipDates := rule.SkipDates
		if skipDates == nil {
			skipDates = []time.Time{}
		}
		batch.Queue(`INSERT INTO section_rule (section_id, position, day_of_week, start_time, end_time, start_date, end_date, skip_dates)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			section.Id, i, int(rule.DayOfWeek), ClockTimeToPg(rule.StartTime), ClockTimeToPg(rule.EndTime),
			rule.StartDate, rule.EndDate, skipDates)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("%w: could not insert section rules: %v", ErrStore, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: could not commit section: %v", ErrStore, err)
	}
	return nil
}

func (r *RepositoryImpl) InsertEvent(ctx context.Context, event LocalEvent) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO schedule_event (id, owner_id, subject_id, section_id, event_date, start_time, end_time, room, status, remote_id, remote_version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.Id, event.OwnerId, event.SubjectId, event.SectionId, event.Date,
		ClockTimeToPg(event.StartTime), ClockTimeToPg(event.EndTime), nullText(event.Room),
		string(event.Status), nullText(event.RemoteId), nullText(event.RemoteVersion))
	if err != nil {
		return fmt.Errorf("%w: could not insert schedule event: %v", ErrStore, err)
	}
	return nil
}
