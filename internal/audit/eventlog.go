// Package audit appends engine events (privileged resets, certificate
// issuance) to a durable, append-only event log.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type Event struct {
	ID        int64  `json:"id,omitempty"`
	Type      string `json:"type"`  // e.g. EnrollmentReset
	Key       string `json:"key"`   // natural key: enrollment id
	Actor     string `json:"actor"` // who triggered it
	DataJSON  string `json:"data"`
	CreatedAt int64  `json:"created_at"`
}

const (
	TypeEnrollmentReset   = "EnrollmentReset"
	TypeFinalQuizAttempt  = "FinalQuizAttempt"
	TypeCertificateIssued = "CertificateIssued"
)

// Recorder is what the engine writes events through.
type Recorder interface {
	Record(ctx context.Context, typ, key, actor string, data any) error
}

type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

func (r *EventRepo) Record(ctx context.Context, typ, key, actor string, data any) error {
	payload := "{}"
	if data != nil {
		if buf, err := json.Marshal(data); err == nil {
			payload = string(buf)
		}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, actor, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		typ, key, actor, payload, time.Now().Unix())
	return err
}

// List returns events for one key, oldest first.
func (r *EventRepo) List(ctx context.Context, key string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, typ, key, actor, data, created_at FROM event_log WHERE key=$1 ORDER BY id`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.Key, &e.Actor, &e.DataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
