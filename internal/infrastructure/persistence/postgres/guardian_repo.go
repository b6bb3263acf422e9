package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/guardian"
	"github.com/velasquezhn3/chatbotwhatsapp/internal/domain/student"
)

// GuardianLinkRepository implements guardian.LinkRepository for PostgreSQL.
type GuardianLinkRepository struct {
	conn *Connection
}

// NewGuardianLinkRepository creates a new GuardianLinkRepository.
func NewGuardianLinkRepository(conn *Connection) *GuardianLinkRepository {
	return &GuardianLinkRepository{conn: conn}
}

// Create stores a new guardian link.
func (r *GuardianLinkRepository) Create(ctx context.Context, link *guardian.Link) error {
	query := `
		INSERT INTO guardian_links (id, user_id, student_id, pin_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.conn.Exec(ctx, query,
		link.ID,
		link.UserID,
		string(link.StudentID),
		link.PINHash,
		link.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return guardian.ErrLinkAlreadyExists
		}
		return fmt.Errorf("failed to create guardian link: %w", err)
	}
	return nil
}

// ListByUser returns the user's links ordered by creation time.
func (r *GuardianLinkRepository) ListByUser(ctx context.Context, userID string) ([]*guardian.Link, error) {
	query := `
		SELECT id, user_id, student_id, pin_hash, created_at
		FROM guardian_links
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guardian links: %w", err)
	}
	defer rows.Close()

	var links []*guardian.Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// Delete removes the link between a user and a student.
func (r *GuardianLinkRepository) Delete(ctx context.Context, userID string, studentID student.ID) error {
	query := `DELETE FROM guardian_links WHERE user_id = $1 AND student_id = $2`

	tag, err := r.conn.Exec(ctx, query, userID, string(studentID))
	if err != nil {
		return fmt.Errorf("failed to delete guardian link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return guardian.ErrLinkNotFound
	}
	return nil
}

// ListUserIDs returns the distinct user identities holding at least one link.
func (r *GuardianLinkRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT user_id FROM guardian_links ORDER BY user_id`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list guardian user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanLink scans a guardian link row.
func scanLink(row pgx.Row) (*guardian.Link, error) {
	var link guardian.Link
	var studentID string

	err := row.Scan(&link.ID, &link.UserID, &studentID, &link.PINHash, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, guardian.ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to scan guardian link: %w", err)
	}

	link.StudentID = student.ID(studentID)
	return &link, nil
}
