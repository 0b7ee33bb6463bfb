package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"nodevideo/internal/models"
)

type PostgresVideoStore struct {
	pool *pgxpool.Pool
}

func NewPostgresVideoStore(pool *pgxpool.Pool) *PostgresVideoStore {
	return &PostgresVideoStore{pool: pool}
}

const videoColumns = `
	id, owner_id, title, description, file_path, size_bytes, mime_type, checksum,
	status, progress, sensitivity, sensitivity_score, sensitivity_details, views,
	created_at, updated_at
`

func (r *PostgresVideoStore) Create(ctx context.Context, video models.Video) error {
	const query = `
		INSERT INTO videos (
			id, owner_id, title, description, file_path, size_bytes, mime_type, checksum,
			status, progress, sensitivity, sensitivity_score, sensitivity_details, views,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, 0,
			NOW(), NOW()
		)
	`

	sensitivity := video.Sensitivity
	if sensitivity == "" {
		sensitivity = models.SensitivityUnknown
	}

	_, err := r.pool.Exec(ctx, query,
		video.ID,
		video.OwnerID,
		video.Title,
		video.Description,
		video.FilePath,
		video.Size,
		video.MimeType,
		video.Checksum,
		video.Status,
		video.Progress,
		sensitivity,
		video.SensitivityScore,
		video.SensitivityDetails,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrVideoExists
	}
	return err
}

func (r *PostgresVideoStore) Get(ctx context.Context, id string) (models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err := scanVideo(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrVideoNotFound
		}
		return models.Video{}, err
	}
	return video, nil
}

func (r *PostgresVideoStore) Update(ctx context.Context, id string, patch models.VideoPatch) error {
	query, args, err := buildUpdate(id, patch)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if patch.ExpectStatus == nil {
		return ErrVideoNotFound
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrVideoNotFound
	}
	return fmt.Errorf("%w: %s", ErrStatusConflict, id)
}

// buildUpdate renders a single UPDATE statement touching only the patched
// columns.
func buildUpdate(id string, patch models.VideoPatch) (string, []any, error) {
	if patch.Empty() {
		return "", nil, ErrEmptyPatch
	}
	if err := patch.CheckTransition(); err != nil {
		return "", nil, err
	}

	sets := make([]string, 0, 6)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.Progress != nil {
		add("progress", *patch.Progress)
	}
	if patch.Sensitivity != nil {
		add("sensitivity", string(*patch.Sensitivity))
	}
	if patch.SensitivityScore != nil {
		add("sensitivity_score", *patch.SensitivityScore)
	}
	if patch.SensitivityDetails != nil {
		add("sensitivity_details", *patch.SensitivityDetails)
	}
	sets = append(sets, "updated_at = NOW()")

	where := "id = $1"
	if patch.ExpectStatus != nil {
		args = append(args, string(*patch.ExpectStatus))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query := fmt.Sprintf("UPDATE videos SET %s WHERE %s", strings.Join(sets, ", "), where)
	return query, args, nil
}

func (r *PostgresVideoStore) IncrementViews(ctx context.Context, id string) error {
	const query = `UPDATE videos SET views = views + 1 WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

func (r *PostgresVideoStore) List(ctx context.Context, filter models.VideoFilter) ([]models.Video, error) {
	query, args := buildList(filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func buildList(filter models.VideoFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.UpdatedBefore != nil {
		add("updated_at < $%d", *filter.UpdatedBefore)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + videoColumns + ` FROM videos`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	args = append(args, normalizeLimit(filter.Limit))
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)
	fmt.Fprintf(&b, " OFFSET $%d", len(args))

	return b.String(), args
}

func (r *PostgresVideoStore) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVideoNotFound
	}
	return nil
}

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID,
		&video.OwnerID,
		&video.Title,
		&video.Description,
		&video.FilePath,
		&video.Size,
		&video.MimeType,
		&video.Checksum,
		&video.Status,
		&video.Progress,
		&video.Sensitivity,
		&video.SensitivityScore,
		&video.SensitivityDetails,
		&video.Views,
		&video.CreatedAt,
		&video.UpdatedAt,
	)
	return video, err
}

var _ VideoStore = (*PostgresVideoStore)(nil)
