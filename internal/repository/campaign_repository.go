package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
)

// CampaignRepository is the durable record of campaigns, their configuration
// and their evolving delivery statistics.
type CampaignRepository interface {
	Create(c *model.Campaign) error
	GetByID(id string) (*model.Campaign, error)
	List(offset, limit int, status, priority, ctype string) ([]*model.Campaign, int, error)

	// TransitionStatus applies from -> to as a compare-and-swap. It returns
	// false with a nil error when the campaign is no longer in `from`, which
	// is how duplicate fires and post-terminal writes are rejected. Entering
	// dispatching stamps dispatch_started_at; entering a terminal state
	// stamps completed_at.
	TransitionStatus(id string, from, to model.Status, reason model.Reason) (bool, error)

	SetResolvedAudience(id string, size int) error

	// ApplyBatch folds one batch's counters into the campaign stats as a
	// single serialized read-modify-write.
	ApplyBatch(id string, delta model.BatchDelta) error

	// ListPending returns every pending campaign, immediate and scheduled,
	// so the re-scan can recover campaigns that crashed between the pending
	// swap and their fire.
	ListPending() ([]*model.Campaign, error)
	Archive(id string) error
	CountByStatus() (map[model.Status]int, error)
}

// PostgresCampaignRepository implements CampaignRepository on *sql.DB.
type PostgresCampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, title, body, template_id, bindings, personalized, type, priority,
	channels, target, schedule_mode, fire_at, status, reason, interval_ms, archived,
	resolved_audience_size, attempted, succeeded, failed, per_channel,
	created_at, dispatch_started_at, completed_at`

func (r *PostgresCampaignRepository) Create(c *model.Campaign) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	bindings, err := json.Marshal(c.Bindings)
	if err != nil {
		return err
	}
	channels, err := json.Marshal(c.Channels)
	if err != nil {
		return err
	}
	target, err := json.Marshal(c.Target)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO campaigns (id, title, body, template_id, bindings, personalized, type,
			priority, channels, target, schedule_mode, fire_at, status, reason, interval_ms,
			archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.DB.Exec(query,
		c.ID, c.Title, c.Body, nullIfEmpty(c.TemplateID), bindings, c.Personalized, c.Type,
		c.Priority, channels, target, c.Schedule.Mode, c.Schedule.FireAt, c.Status, c.Reason,
		c.Interval.Milliseconds(), c.Archived, c.CreatedAt,
	)
	return err
}

func (r *PostgresCampaignRepository) GetByID(id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *PostgresCampaignRepository) List(offset, limit int, status, priority, ctype string) ([]*model.Campaign, int, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE archived = FALSE`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE archived = FALSE`
	args := []interface{}{}
	argPos := 1

	appendFilter := func(col, val string) {
		if val == "" {
			return
		}
		clause := fmt.Sprintf(" AND %s=$%d", col, argPos)
		query += clause
		countQuery += clause
		args = append(args, val)
		argPos++
	}
	appendFilter("status", status)
	appendFilter("priority", priority)
	appendFilter("type", ctype)

	var total int
	if err := r.DB.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *PostgresCampaignRepository) TransitionStatus(id string, from, to model.Status, reason model.Reason) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, &apperrors.ErrIllegalTransition{CampaignID: id, From: string(from), To: string(to)}
	}
	query := `
		UPDATE campaigns
		SET status=$1, reason=$2,
		    dispatch_started_at = CASE WHEN $1 = 'dispatching' THEN NOW() ELSE dispatch_started_at END,
		    completed_at        = CASE WHEN $1 IN ('sent','failed') THEN NOW() ELSE completed_at END
		WHERE id=$3 AND status=$4
	`
	res, err := r.DB.Exec(query, to, reason, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresCampaignRepository) SetResolvedAudience(id string, size int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET resolved_audience_size=$1 WHERE id=$2`, size, id)
	return err
}

func (r *PostgresCampaignRepository) ApplyBatch(id string, delta model.BatchDelta) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var perChannelRaw []byte
	if err := tx.QueryRow(`SELECT per_channel FROM campaigns WHERE id=$1 FOR UPDATE`, id).Scan(&perChannelRaw); err != nil {
		if err == sql.ErrNoRows {
			return apperrors.NewCampaignNotFound(id)
		}
		return err
	}

	perChannel := map[model.Channel]model.ChannelStats{}
	if len(perChannelRaw) > 0 {
		if err := json.Unmarshal(perChannelRaw, &perChannel); err != nil {
			return err
		}
	}
	for ch, cs := range delta.PerChannel {
		cur := perChannel[ch]
		cur.Attempted += cs.Attempted
		cur.Succeeded += cs.Succeeded
		cur.Failed += cs.Failed
		perChannel[ch] = cur
	}
	merged, err := json.Marshal(perChannel)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE campaigns
		SET attempted = attempted + $1,
		    succeeded = succeeded + $2,
		    failed    = failed + $3,
		    per_channel = $4
		WHERE id=$5
	`, delta.Attempted, delta.Succeeded, delta.Failed, merged, id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresCampaignRepository) ListPending() ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status='pending'`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Archive hides a campaign from listings. Campaigns are never deleted.
func (r *PostgresCampaignRepository) Archive(id string) error {
	res, err := r.DB.Exec(`UPDATE campaigns SET archived = TRUE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewCampaignNotFound(id)
	}
	return nil
}

func (r *PostgresCampaignRepository) CountByStatus() (map[model.Status]int, error) {
	rows, err := r.DB.Query(`SELECT status, COUNT(*) FROM campaigns WHERE archived = FALSE GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.Status]int{}
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c              model.Campaign
		templateID     sql.NullString
		bindingsRaw    []byte
		channelsRaw    []byte
		targetRaw      []byte
		perChannelRaw  []byte
		intervalMillis int64
	)
	err := row.Scan(
		&c.ID, &c.Title, &c.Body, &templateID, &bindingsRaw, &c.Personalized, &c.Type, &c.Priority,
		&channelsRaw, &targetRaw, &c.Schedule.Mode, &c.Schedule.FireAt, &c.Status,
		&c.Reason, &intervalMillis, &c.Archived,
		&c.Stats.ResolvedAudienceSize, &c.Stats.Attempted, &c.Stats.Succeeded,
		&c.Stats.Failed, &perChannelRaw,
		&c.CreatedAt, &c.DispatchStartedAt, &c.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TemplateID = templateID.String
	c.Interval = time.Duration(intervalMillis) * time.Millisecond
	if len(bindingsRaw) > 0 {
		if err := json.Unmarshal(bindingsRaw, &c.Bindings); err != nil {
			return nil, err
		}
	}
	if len(channelsRaw) > 0 {
		if err := json.Unmarshal(channelsRaw, &c.Channels); err != nil {
			return nil, err
		}
	}
	if len(targetRaw) > 0 {
		if err := json.Unmarshal(targetRaw, &c.Target); err != nil {
			return nil, err
		}
	}
	if len(perChannelRaw) > 0 {
		if err := json.Unmarshal(perChannelRaw, &c.Stats.PerChannel); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ CampaignRepository = (*PostgresCampaignRepository)(nil)
