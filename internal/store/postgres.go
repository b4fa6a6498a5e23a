package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) ResolveOwnerIDByAPIKey(ctx context.Context, rawKey string) (string, error) {
	ownerID := ""
	err := p.pool.QueryRow(
		ctx,
		`SELECT owner_id FROM api_keys WHERE key = $1`,
		rawKey,
	).Scan(&ownerID)
	if err != nil {
		return "", err
	}
	return ownerID, nil
}

func (p *Postgres) ListOwners(ctx context.Context) ([]Owner, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT id, name, created_at FROM owners ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make([]Owner, 0)
	for rows.Next() {
		var owner Owner
		if err := rows.Scan(&owner.ID, &owner.Name, &owner.CreatedAt); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (p *Postgres) CreateOwnerWithAPIKey(ctx context.Context, name, label, rawKey string) (Owner, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Owner{}, err
	}
	defer tx.Rollback(ctx)

	owner := Owner{}
	err = tx.QueryRow(
		ctx,
		`INSERT INTO owners (id, name) VALUES ($1, $2)
		 RETURNING id, name, created_at`,
		"own_"+uuid.NewString(),
		name,
	).Scan(&owner.ID, &owner.Name, &owner.CreatedAt)
	if err != nil {
		return Owner{}, err
	}

	_, err = tx.Exec(
		ctx,
		`INSERT INTO api_keys (id, owner_id, label, key) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(),
		owner.ID,
		label,
		rawKey,
	)
	if err != nil {
		return Owner{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Owner{}, err
	}
	return owner, nil
}

func (p *Postgres) CreateAPIKeyForOwner(ctx context.Context, ownerID, label, rawKey string) (APIKey, error) {
	key := APIKey{}
	err := p.pool.QueryRow(
		ctx,
		`INSERT INTO api_keys (id, owner_id, label, key) VALUES ($1, $2, $3, $4)
		 RETURNING id, owner_id, label, created_at`,
		uuid.NewString(),
		ownerID,
		label,
		rawKey,
	).Scan(&key.ID, &key.OwnerID, &key.Label, &key.CreatedAt)
	if err != nil {
		return APIKey{}, err
	}
	return key, nil
}

func (p *Postgres) ListCatalog(ctx context.Context, search, category string) ([]CatalogProduct, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT id, name, category, barcode, thumbnail_ref, price, created_at
		 FROM catalog_products
		 WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR barcode = $1)
		   AND ($2 = '' OR category = $2)
		 ORDER BY created_at ASC`,
		search,
		category,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]CatalogProduct, 0)
	for rows.Next() {
		var product CatalogProduct
		if err := rows.Scan(
			&product.ID,
			&product.Name,
			&product.Category,
			&product.Barcode,
			&product.ThumbnailRef,
			&product.Price,
			&product.CreatedAt,
		); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (p *Postgres) ListSourceItems(ctx context.Context, ownerID string) ([]SourceItem, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT id, owner_id, ref, name, category, thumbnail_ref, created_at
		 FROM source_items
		 WHERE owner_id = $1
		 ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]SourceItem, 0)
	for rows.Next() {
		var item SourceItem
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.Ref,
			&item.Name,
			&item.Category,
			&item.ThumbnailRef,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (p *Postgres) ListPlans(ctx context.Context, ownerID string) ([]PlanRecord, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT id, owner_id, source_ref, shots, status, approved_at, reasoning, created_at
		 FROM shot_plans
		 WHERE owner_id = $1
		 ORDER BY created_at ASC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := make([]PlanRecord, 0)
	for rows.Next() {
		var plan PlanRecord
		var shotsJSON []byte
		if err := rows.Scan(
			&plan.ID,
			&plan.OwnerID,
			&plan.SourceRef,
			&shotsJSON,
			&plan.Status,
			&plan.ApprovedAt,
			&plan.Reasoning,
			&plan.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(shotsJSON) > 0 {
			if err := json.Unmarshal(shotsJSON, &plan.Shots); err != nil {
				return nil, fmt.Errorf("decode shots for plan %s: %w", plan.ID, err)
			}
		}
		if plan.Shots == nil {
			plan.Shots = []ShotRecord{}
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (p *Postgres) DeletePlan(ctx context.Context, ownerID, planID string) error {
	tag, err := p.pool.Exec(
		ctx,
		`DELETE FROM shot_plans WHERE owner_id = $1 AND id = $2`,
		ownerID,
		planID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (p *Postgres) DeleteSourceItem(ctx context.Context, ownerID, ref string) error {
	_, err := p.pool.Exec(
		ctx,
		`DELETE FROM source_items WHERE owner_id = $1 AND ref = $2`,
		ownerID,
		ref,
	)
	return err
}

// ActiveJob returns the newest in-progress execution job for the owner, or
// nil when there is none.
func (p *Postgres) ActiveJob(ctx context.Context, ownerID string) (*JobRecord, error) {
	job := JobRecord{}
	err := p.pool.QueryRow(
		ctx,
		`SELECT id, owner_id, status, total_units, completed_units, failed_units, started_at, created_at
		 FROM execution_jobs
		 WHERE owner_id = $1 AND status = 'processing'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		ownerID,
	).Scan(
		&job.ID,
		&job.OwnerID,
		&job.Status,
		&job.TotalUnits,
		&job.CompletedUnits,
		&job.FailedUnits,
		&job.StartedAt,
		&job.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (p *Postgres) ListArtifacts(ctx context.Context, ownerID, jobID string) ([]ArtifactRecord, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT id, owner_id, job_id, source_ref, shot_number, status, media_ref, object_key, rating, error_message, created_at
		 FROM result_artifacts
		 WHERE owner_id = $1 AND ($2 = '' OR job_id = $2)
		 ORDER BY created_at ASC`,
		ownerID,
		jobID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	artifacts := make([]ArtifactRecord, 0)
	for rows.Next() {
		var artifact ArtifactRecord
		if err := rows.Scan(
			&artifact.ID,
			&artifact.OwnerID,
			&artifact.JobID,
			&artifact.SourceRef,
			&artifact.ShotNumber,
			&artifact.Status,
			&artifact.MediaRef,
			&artifact.ObjectKey,
			&artifact.Rating,
			&artifact.ErrorMessage,
			&artifact.CreatedAt,
		); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

func (p *Postgres) UpdateArtifactRating(ctx context.Context, ownerID, artifactID string, rating *int) error {
	tag, err := p.pool.Exec(
		ctx,
		`UPDATE result_artifacts SET rating = $3 WHERE owner_id = $1 AND id = $2`,
		ownerID,
		artifactID,
		rating,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DeleteArtifact removes the record and returns it so the caller can delete
// any backing object.
func (p *Postgres) DeleteArtifact(ctx context.Context, ownerID, artifactID string) (ArtifactRecord, error) {
	artifact := ArtifactRecord{}
	err := p.pool.QueryRow(
		ctx,
		`DELETE FROM result_artifacts
		 WHERE owner_id = $1 AND id = $2
		 RETURNING id, owner_id, job_id, source_ref, shot_number, status, media_ref, object_key, rating, error_message, created_at`,
		ownerID,
		artifactID,
	).Scan(
		&artifact.ID,
		&artifact.OwnerID,
		&artifact.JobID,
		&artifact.SourceRef,
		&artifact.ShotNumber,
		&artifact.Status,
		&artifact.MediaRef,
		&artifact.ObjectKey,
		&artifact.Rating,
		&artifact.ErrorMessage,
		&artifact.CreatedAt,
	)
	if err != nil {
		return ArtifactRecord{}, err
	}
	return artifact, nil
}

func (p *Postgres) CreateVideoProject(ctx context.Context, ownerID, title string, storyboard json.RawMessage) (VideoProject, error) {
	project := VideoProject{}
	var storedStoryboard []byte
	err := p.pool.QueryRow(
		ctx,
		`INSERT INTO video_projects (id, owner_id, title, status, storyboard)
		 VALUES ($1, $2, $3, 'storyboarded', $4)
		 RETURNING id, owner_id, title, status, storyboard, media_ref, created_at`,
		"vid_"+uuid.NewString(),
		ownerID,
		title,
		[]byte(storyboard),
	).Scan(
		&project.ID,
		&project.OwnerID,
		&project.Title,
		&project.Status,
		&storedStoryboard,
		&project.MediaRef,
		&project.CreatedAt,
	)
	if err != nil {
		return VideoProject{}, err
	}
	project.Storyboard = json.RawMessage(storedStoryboard)
	return project, nil
}

func (p *Postgres) GetVideoProject(ctx context.Context, ownerID, projectID string) (VideoProject, error) {
	project := VideoProject{}
	var storedStoryboard []byte
	err := p.pool.QueryRow(
		ctx,
		`SELECT id, owner_id, title, status, storyboard, media_ref, created_at
		 FROM video_projects
		 WHERE owner_id = $1 AND id = $2`,
		ownerID,
		projectID,
	).Scan(
		&project.ID,
		&project.OwnerID,
		&project.Title,
		&project.Status,
		&storedStoryboard,
		&project.MediaRef,
		&project.CreatedAt,
	)
	if err != nil {
		return VideoProject{}, err
	}
	project.Storyboard = json.RawMessage(storedStoryboard)
	return project, nil
}

func (p *Postgres) UpdateVideoProjectStatus(ctx context.Context, ownerID, projectID, status, mediaRef string) error {
	tag, err := p.pool.Exec(
		ctx,
		`UPDATE video_projects
		 SET status = $3, media_ref = COALESCE(NULLIF($4, ''), media_ref)
		 WHERE owner_id = $1 AND id = $2`,
		ownerID,
		projectID,
		status,
		mediaRef,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CleanupExpiredData deletes terminal execution jobs older than the retention
// window together with their artifacts, reporting any object keys the caller
// must remove from the artifact store.
func (p *Postgres) CleanupExpiredData(ctx context.Context, ownerID string, retentionDays int) (CleanupResult, error) {
	if retentionDays < 1 {
		return CleanupResult{}, fmt.Errorf("retentionDays must be >= 1")
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CleanupResult{}, err
	}
	defer tx.Rollback(ctx)

	result := CleanupResult{RetentionDays: retentionDays}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	rows, err := tx.Query(
		ctx,
		`DELETE FROM result_artifacts
		 WHERE owner_id = $1
		   AND job_id IN (
		     SELECT id FROM execution_jobs
		     WHERE owner_id = $1 AND status <> 'processing' AND created_at < $2
		   )
		 RETURNING object_key`,
		ownerID,
		cutoff,
	)
	if err != nil {
		return CleanupResult{}, err
	}
	for rows.Next() {
		objectKey := ""
		if err := rows.Scan(&objectKey); err != nil {
			rows.Close()
			return CleanupResult{}, err
		}
		result.DeletedArtifacts++
		if objectKey != "" {
			result.DeletedObjectKeys = append(result.DeletedObjectKeys, objectKey)
		}
	}
	rows.Close()
	if rows.Err() != nil {
		return CleanupResult{}, rows.Err()
	}

	tag, err := tx.Exec(
		ctx,
		`DELETE FROM execution_jobs
		 WHERE owner_id = $1 AND status <> 'processing' AND created_at < $2`,
		ownerID,
		cutoff,
	)
	if err != nil {
		return CleanupResult{}, err
	}
	result.DeletedJobs = int(tag.RowsAffected())

	if err := tx.Commit(ctx); err != nil {
		return CleanupResult{}, err
	}
	return result, nil
}
