package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/bitpanel/notification-service/internal/model"
)

// PostgresDirectory serves segment membership from the recipients table in
// fixed-size pages. The page token is the offset of the next page.
type PostgresDirectory struct {
	DB       *sql.DB
	PageSize int
}

func (d *PostgresDirectory) QueryRecipients(ctx context.Context, segment model.Segment, pageToken string) ([]string, string, error) {
	size := d.PageSize
	if size <= 0 {
		size = 100
	}
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("bad page token %q: %w", pageToken, err)
		}
		offset = n
	}

	query := `SELECT id FROM recipients`
	switch segment {
	case model.SegmentAll:
	case model.SegmentActive:
		query += ` WHERE status = 'active'`
	case model.SegmentInactive:
		query += ` WHERE status = 'inactive'`
	case model.SegmentVIP:
		query += ` WHERE vip = TRUE`
	default:
		return nil, "", fmt.Errorf("unknown segment %s", segment)
	}
	// One extra row decides whether another page follows.
	query += ` ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := d.DB.QueryContext(ctx, query, size+1, offset)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(ids) > size {
		ids = ids[:size]
		next = strconv.Itoa(offset + size)
	}
	return ids, next, nil
}
