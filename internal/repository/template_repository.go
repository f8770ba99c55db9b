package repository

import (
	"database/sql"
	"time"

	"github.com/bitpanel/notification-service/internal/apperrors"
	"github.com/bitpanel/notification-service/internal/model"
)

// TemplateRepository stores reusable message templates.
//
// Deletion policy: a template may only be deleted while its usage count is
// zero. Once a campaign has rendered it the record is kept for audit
// fidelity.
type TemplateRepository interface {
	Create(t *model.Template) error
	GetByID(id string) (*model.Template, error)
	List() ([]*model.Template, error)

	// IncrementUsage bumps usage_count atomically under concurrent campaign
	// creation.
	IncrementUsage(id string) error

	Delete(id string) error
}

// PostgresTemplateRepository implements TemplateRepository on *sql.DB.
type PostgresTemplateRepository struct {
	DB *sql.DB
}

func (r *PostgresTemplateRepository) Create(t *model.Template) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO templates (id, name, type, title_pattern, body_pattern, personalized, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.DB.Exec(query, t.ID, t.Name, t.Type, t.TitlePattern, t.BodyPattern, t.Personalized, t.UsageCount, t.CreatedAt)
	return err
}

func (r *PostgresTemplateRepository) GetByID(id string) (*model.Template, error) {
	query := `
		SELECT id, name, type, title_pattern, body_pattern, personalized, usage_count, created_at
		FROM templates WHERE id=$1
	`
	var t model.Template
	err := r.DB.QueryRow(query, id).Scan(
		&t.ID, &t.Name, &t.Type, &t.TitlePattern, &t.BodyPattern, &t.Personalized, &t.UsageCount, &t.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewTemplateNotFound(id)
		}
		return nil, err
	}
	return &t, nil
}

func (r *PostgresTemplateRepository) List() ([]*model.Template, error) {
	query := `
		SELECT id, name, type, title_pattern, body_pattern, personalized, usage_count, created_at
		FROM templates ORDER BY created_at DESC
	`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []*model.Template{}
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.TitlePattern, &t.BodyPattern, &t.Personalized, &t.UsageCount, &t.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

func (r *PostgresTemplateRepository) IncrementUsage(id string) error {
	res, err := r.DB.Exec(`UPDATE templates SET usage_count = usage_count + 1 WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewTemplateNotFound(id)
	}
	return nil
}

func (r *PostgresTemplateRepository) Delete(id string) error {
	res, err := r.DB.Exec(`DELETE FROM templates WHERE id=$1 AND usage_count = 0`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	// Either missing or still referenced; distinguish for the caller.
	if _, err := r.GetByID(id); err != nil {
		return err
	}
	return apperrors.NewTemplateInUse(id)
}

var _ TemplateRepository = (*PostgresTemplateRepository)(nil)
