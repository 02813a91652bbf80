package sessionlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Agrid-Dev/preheat/internal/heating"
)

var (
	ErrEmptyRoomID  = errors.New("session room id must not be empty")
	ErrInvalidLimit = errors.New("limit must be greater than zero")
)

// timeLayout is fixed width so that text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Append inserts a closed phase. An empty ID is generated.
func (s *Store) Append(ctx context.Context, ses heating.Session) (heating.Session, error) {
	if ses.RoomID == "" {
		return heating.Session{}, ErrEmptyRoomID
	}
	if ses.ID == "" {
		ses.ID = uuid.NewString()
	}

	var onTime *string
	if ses.OnTime != nil {
		v := formatTime(*ses.OnTime)
		onTime = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heating_sessions (id, room_id, phase, on_time, on_temp, off_time, off_temp, flow_temp, ambient_temp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ses.ID,
		ses.RoomID,
		ses.Phase.String(),
		onTime,
		ses.OnTemperature,
		formatTime(ses.OffTime),
		ses.OffTemperature,
		ses.FlowTemperature,
		ses.AmbientTemperature,
	)
	if err != nil {
		return heating.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return ses, nil
}

// List returns the most recent sessions of a room, newest first.
func (s *Store) List(ctx context.Context, roomID string, limit int) ([]heating.Session, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, phase, on_time, on_temp, off_time, off_temp, flow_temp, ambient_temp
		FROM heating_sessions
		WHERE room_id = ?
		ORDER BY off_time DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := make([]heating.Session, 0, limit)
	for rows.Next() {
		var (
			ses                      heating.Session
			phase, offTime           string
			onTime                   sql.NullString
			onTemp, flowTemp, ambTmp sql.NullFloat64
		)
		if err := rows.Scan(&ses.ID, &ses.RoomID, &phase, &onTime, &onTemp, &offTime, &ses.OffTemperature, &flowTemp, &ambTmp); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if ses.Phase, err = heating.ParsePhase(phase); err != nil {
			return nil, fmt.Errorf("session %s: %w", ses.ID, err)
		}
		if ses.OffTime, err = parseTime(offTime); err != nil {
			return nil, fmt.Errorf("session %s: %w", ses.ID, err)
		}
		if onTime.Valid {
			t, err := parseTime(onTime.String)
			if err != nil {
				return nil, fmt.Errorf("session %s: %w", ses.ID, err)
			}
			ses.OnTime = &t
		}
		ses.OnTemperature = nullFloat(onTemp)
		ses.FlowTemperature = nullFloat(flowTemp)
		ses.AmbientTemperature = nullFloat(ambTmp)
		out = append(out, ses)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
