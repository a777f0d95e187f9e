package sqlstore

import (
	"context"
	"encoding/json"

	andyweb "github.com/CallMeChewy/AndyWeb"
)

func (s *Store) AppendActivity(ctx context.Context, rec andyweb.ActivityRecord) error {
	data := rec.Data
	if data == nil {
		data = map[string]string{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO user_activity (user_id, activity_type, activity_data, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		nullInt64(rec.UserID), rec.Type, string(payload), rec.IPAddress, rec.UserAgent, utc(rec.CreatedAt),
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Activity returns the most recent activity rows for userID, newest first.
// A zero userID selects anonymous events.
func (s *Store) Activity(ctx context.Context, userID int64, limit int) ([]andyweb.ActivityRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT user_id, activity_type, activity_data, ip_address, user_agent, created_at
		FROM user_activity WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	args := []any{userID, limit}
	if userID == 0 {
		query = `SELECT user_id, activity_type, activity_data, ip_address, user_agent, created_at
			FROM user_activity WHERE user_id IS NULL ORDER BY id DESC LIMIT ?`
		args = []any{limit}
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []andyweb.ActivityRecord
	for rows.Next() {
		var (
			rec     andyweb.ActivityRecord
			uid     nullableID
			payload string
		)
		if err := rows.Scan(&uid, &rec.Type, &payload, &rec.IPAddress, &rec.UserAgent, &rec.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		rec.UserID = int64(uid)
		rec.CreatedAt = rec.CreatedAt.UTC()
		if err := json.Unmarshal([]byte(payload), &rec.Data); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// nullableID scans a nullable BIGINT as zero when NULL.
type nullableID int64

func (n *nullableID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*n = 0
	case int64:
		*n = nullableID(v)
	case int32:
		*n = nullableID(v)
	default:
		return errUnexpectedID
	}
	return nil
}
