package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"talentfolio/api/internal/engine"
	"talentfolio/api/internal/forms"
)

// PostgresStore keeps one JSONB document per (user, section). Writes are
// full overwrites: the engine reconstructs the whole document before every
// flush, so no partial-field update path exists here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetProfileSection loads the document for one (user, section) pair.
// Returns engine.ErrNotFound when the user has never saved the section.
func (s *PostgresStore) GetProfileSection(ctx context.Context, userID, sectionID string) (*forms.SectionDocument, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM profile_sections WHERE user_id=$1 AND section_id=$2
	`, userID, sectionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, remoteErr(fmt.Errorf("load section %s: %w", sectionID, err))
	}

	var doc forms.SectionDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &engine.RemoteError{Err: fmt.Errorf("decode section %s: %w", sectionID, err)}
	}
	return &doc, nil
}

// UpdateProfileSection overwrites the document for (userID, doc.ID).
func (s *PostgresStore) UpdateProfileSection(ctx context.Context, userID string, doc *forms.SectionDocument) error {
	if doc == nil || doc.ID == "" {
		return &engine.RemoteError{Err: errors.New("document has no section id")}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return &engine.RemoteError{Err: fmt.Errorf("encode section %s: %w", doc.ID, err)}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profile_sections (user_id, section_id, profile_type, doc, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, section_id)
		DO UPDATE SET profile_type=EXCLUDED.profile_type, doc=EXCLUDED.doc, updated_at=NOW()
	`, userID, doc.ID, doc.ProfileType, raw)
	if err != nil {
		return remoteErr(fmt.Errorf("save section %s: %w", doc.ID, err))
	}
	return nil
}

// ListProfileSections returns every saved section document for a user.
func (s *PostgresStore) ListProfileSections(ctx context.Context, userID string) ([]*forms.SectionDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM profile_sections WHERE user_id=$1 ORDER BY section_id
	`, userID)
	if err != nil {
		return nil, remoteErr(fmt.Errorf("list sections: %w", err))
	}
	defer rows.Close()

	var docs []*forms.SectionDocument
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, remoteErr(fmt.Errorf("scan section: %w", err))
		}
		var doc forms.SectionDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			// A single corrupt row must not block the rest of the profile.
			continue
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, remoteErr(fmt.Errorf("iterate sections: %w", err))
	}
	return docs, nil
}

// SearchProfileSections is the fallback answer search used when the search
// index is unavailable: a case-insensitive substring match over the raw
// document text.
func (s *PostgresStore) SearchProfileSections(ctx context.Context, userID, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT section_id FROM profile_sections
		WHERE user_id=$1 AND doc::text ILIKE '%' || $2 || '%'
		ORDER BY section_id
		LIMIT $3
	`, userID, query, limit)
	if err != nil {
		return nil, remoteErr(fmt.Errorf("search sections: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, remoteErr(fmt.Errorf("scan search hit: %w", err))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// remoteErr tags a database failure with its retry class so the engine can
// decide between quiet retry and a user-facing warning without inspecting
// message text.
func remoteErr(err error) error {
	return &engine.RemoteError{Transient: isTransient(err), Err: err}
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions. 57P0x: server shutdown/crash.
		// 53300: too many connections.
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03", "53300":
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
