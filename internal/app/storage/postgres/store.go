// Package postgres implements the storage interfaces backed by PostgreSQL.
// The schema is expected to exist; see schema.sql in this directory.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/storeentry"
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/subscription"
	"github.com/arrowhead-lite/orchestrator/internal/app/storage"
)

// Store implements the storage interfaces over a sqlx database handle.
type Store struct {
	db *sqlx.DB
}

var _ storage.StoreEntryStore = (*Store)(nil)
var _ storage.SubscriptionStore = (*Store)(nil)
var _ storage.JobStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at url and verifies the connection.
func Open(url string) (*Store, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoreEntryStore ------------------------------------------------------------

const entryColumns = `id, consumer, service_definition, service_instance_id, priority, created_by, updated_by, created_at, updated_at`

type entryRow struct {
	ID                string    `db:"id"`
	Consumer          string    `db:"consumer"`
	ServiceDefinition string    `db:"service_definition"`
	ServiceInstanceID string    `db:"service_instance_id"`
	Priority          int       `db:"priority"`
	CreatedBy         string    `db:"created_by"`
	UpdatedBy         string    `db:"updated_by"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r entryRow) toDomain() storeentry.Entry {
	return storeentry.Entry(r)
}

func (s *Store) CreateEntries(ctx context.Context, entries []storeentry.Entry) ([]storeentry.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	created := make([]storeentry.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.CreatedAt = now
		entry.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orchestration_store_entries (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, entry.ID, entry.Consumer, entry.ServiceDefinition, entry.ServiceInstanceID,
			entry.Priority, entry.CreatedBy, entry.UpdatedBy, entry.CreatedAt, entry.UpdatedAt); err != nil {
			return nil, err
		}
		created = append(created, entry)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateEntries(ctx context.Context, entries []storeentry.Entry) ([]storeentry.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	updated := make([]storeentry.Entry, 0, len(entries))
	for _, entry := range entries {
		entry.UpdatedAt = now
		result, err := tx.ExecContext(ctx, `
			UPDATE orchestration_store_entries
			SET priority = $2, updated_by = $3, updated_at = $4
			WHERE id = $1
		`, entry.ID, entry.Priority, entry.UpdatedBy, entry.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			continue
		}
		updated = append(updated, entry)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) GetEntriesByIDs(ctx context.Context, ids []string) ([]storeentry.Entry, error) {
	if len(ids) == 0 {
		return []storeentry.Entry{}, nil
	}
	query, args, err := sqlx.In(`
		SELECT `+entryColumns+`
		FROM orchestration_store_entries
		WHERE id IN (?)
		ORDER BY created_at
	`, ids)
	if err != nil {
		return nil, err
	}
	return s.selectEntries(ctx, s.db.Rebind(query), args...)
}

func (s *Store) ListEntries(ctx context.Context, filter storeentry.Filter) ([]storeentry.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM orchestration_store_entries WHERE 1=1`
	args := []any{}

	if len(filter.IDs) > 0 {
		query += ` AND id IN (?)`
		args = append(args, filter.IDs)
	}
	if len(filter.Consumers) > 0 {
		query += ` AND consumer IN (?)`
		args = append(args, filter.Consumers)
	}
	if len(filter.ServiceDefinitions) > 0 {
		query += ` AND service_definition IN (?)`
		args = append(args, filter.ServiceDefinitions)
	}
	if len(filter.ServiceInstanceIDs) > 0 {
		query += ` AND service_instance_id IN (?)`
		args = append(args, filter.ServiceInstanceIDs)
	}
	if filter.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, filter.CreatedBy)
	}
	if filter.MinPriority != nil {
		query += ` AND priority >= ?`
		args = append(args, *filter.MinPriority)
	}
	if filter.MaxPriority != nil {
		query += ` AND priority <= ?`
		args = append(args, *filter.MaxPriority)
	}
	query += ` ORDER BY created_at`

	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	return s.selectEntries(ctx, s.db.Rebind(expanded), expandedArgs...)
}

func (s *Store) PageEntries(ctx context.Context, page storage.PageRequest) ([]storeentry.Entry, int, error) {
	page = page.Normalize()

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM orchestration_store_entries`); err != nil {
		return nil, 0, err
	}

	entries, err := s.selectEntries(ctx, `
		SELECT `+entryColumns+`
		FROM orchestration_store_entries
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) PageEntriesByIDs(ctx context.Context, ids []string, page storage.PageRequest) ([]storeentry.Entry, int, error) {
	if len(ids) == 0 {
		return []storeentry.Entry{}, 0, nil
	}
	page = page.Normalize()

	countQuery, countArgs, err := sqlx.In(`SELECT COUNT(*) FROM orchestration_store_entries WHERE id IN (?)`, ids)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, err
	}

	query, args, err := sqlx.In(`
		SELECT `+entryColumns+`
		FROM orchestration_store_entries
		WHERE id IN (?)
		ORDER BY created_at
		LIMIT ? OFFSET ?
	`, ids, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	entries, err := s.selectEntries(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (s *Store) FindEntryByTriple(ctx context.Context, consumer, serviceInstanceID string, priority int) (storeentry.Entry, bool, error) {
	var row entryRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+entryColumns+`
		FROM orchestration_store_entries
		WHERE consumer = $1 AND service_instance_id = $2 AND priority = $3
	`, consumer, serviceInstanceID, priority)
	if errors.Is(err, sql.ErrNoRows) {
		return storeentry.Entry{}, false, nil
	}
	if err != nil {
		return storeentry.Entry{}, false, err
	}
	return row.toDomain(), true, nil
}

func (s *Store) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM orchestration_store_entries WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

func (s *Store) selectEntries(ctx context.Context, query string, args ...any) ([]storeentry.Entry, error) {
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	entries := make([]storeentry.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

// SubscriptionStore ----------------------------------------------------------

type subscriptionRow struct {
	ID          string       `db:"id"`
	Consumer    string       `db:"consumer"`
	Form        []byte       `db:"form"`
	NotifyURL   string       `db:"notify_url"`
	CreatedAt   time.Time    `db:"created_at"`
	TriggeredAt sql.NullTime `db:"triggered_at"`
}

func (r subscriptionRow) toDomain() (subscription.Subscription, error) {
	sub := subscription.Subscription{
		ID:        r.ID,
		Consumer:  r.Consumer,
		NotifyURL: r.NotifyURL,
		CreatedAt: r.CreatedAt,
	}
	if r.TriggeredAt.Valid {
		sub.TriggeredAt = r.TriggeredAt.Time
	}
	if len(r.Form) > 0 {
		if err := json.Unmarshal(r.Form, &sub.Form); err != nil {
			return subscription.Subscription{}, err
		}
	}
	return sub, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub subscription.Subscription) (subscription.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	formJSON, err := json.Marshal(sub.Form)
	if err != nil {
		return subscription.Subscription{}, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return subscription.Subscription{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM orchestration_subscriptions WHERE consumer = $1
	`, sub.Consumer); err != nil {
		return subscription.Subscription{}, err
	}

	var triggeredAt any
	if !sub.TriggeredAt.IsZero() {
		triggeredAt = sub.TriggeredAt
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orchestration_subscriptions (id, consumer, form, notify_url, created_at, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sub.ID, sub.Consumer, formJSON, sub.NotifyURL, sub.CreatedAt, triggeredAt); err != nil {
		return subscription.Subscription{}, err
	}

	if err := tx.Commit(); err != nil {
		return subscription.Subscription{}, err
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (subscription.Subscription, bool, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, consumer, form, notify_url, created_at, triggered_at
		FROM orchestration_subscriptions
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscription{}, false, nil
	}
	if err != nil {
		return subscription.Subscription{}, false, err
	}
	sub, err := row.toDomain()
	if err != nil {
		return subscription.Subscription{}, false, err
	}
	return sub, true, nil
}

func (s *Store) GetSubscriptionByConsumer(ctx context.Context, consumer string) (subscription.Subscription, bool, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, consumer, form, notify_url, created_at, triggered_at
		FROM orchestration_subscriptions
		WHERE consumer = $1
	`, consumer)
	if errors.Is(err, sql.ErrNoRows) {
		return subscription.Subscription{}, false, nil
	}
	if err != nil {
		return subscription.Subscription{}, false, err
	}
	sub, err := row.toDomain()
	if err != nil {
		return subscription.Subscription{}, false, err
	}
	return sub, true, nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]subscription.Subscription, error) {
	var rows []subscriptionRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, consumer, form, notify_url, created_at, triggered_at
		FROM orchestration_subscriptions
		ORDER BY created_at
	`); err != nil {
		return nil, err
	}
	subs := make([]subscription.Subscription, 0, len(rows))
	for _, row := range rows {
		sub, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM orchestration_subscriptions WHERE id = $1
	`, id)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// JobStore -------------------------------------------------------------------

const jobColumns = `id, type, status, requester_system, target_system, service_definition, subscription_id, message, created_at, updated_at`

type jobRow struct {
	ID                string    `db:"id"`
	Type              string    `db:"type"`
	Status            string    `db:"status"`
	RequesterSystem   string    `db:"requester_system"`
	TargetSystem      string    `db:"target_system"`
	ServiceDefinition string    `db:"service_definition"`
	SubscriptionID    string    `db:"subscription_id"`
	Message           string    `db:"message"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r jobRow) toDomain() orchestration.Job {
	return orchestration.Job{
		ID:                r.ID,
		Type:              orchestration.JobType(r.Type),
		Status:            orchestration.JobStatus(r.Status),
		RequesterSystem:   r.RequesterSystem,
		TargetSystem:      r.TargetSystem,
		ServiceDefinition: r.ServiceDefinition,
		SubscriptionID:    r.SubscriptionID,
		Message:           r.Message,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (s *Store) CreateJob(ctx context.Context, job orchestration.Job) (orchestration.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orchestration_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, job.ID, string(job.Type), string(job.Status), job.RequesterSystem, job.TargetSystem,
		job.ServiceDefinition, job.SubscriptionID, job.Message, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return orchestration.Job{}, err
	}
	return job, nil
}

func (s *Store) UpdateJob(ctx context.Context, job orchestration.Job) (orchestration.Job, error) {
	job.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_jobs
		SET status = $2, target_system = $3, message = $4, updated_at = $5
		WHERE id = $1
	`, job.ID, string(job.Status), job.TargetSystem, job.Message, job.UpdatedAt)
	if err != nil {
		return orchestration.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return orchestration.Job{}, storage.ErrJobNotFound
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (orchestration.Job, bool, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+jobColumns+`
		FROM orchestration_jobs
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return orchestration.Job{}, false, nil
	}
	if err != nil {
		return orchestration.Job{}, false, err
	}
	return row.toDomain(), true, nil
}

func (s *Store) QueryJobs(ctx context.Context, filter orchestration.JobFilter, page storage.PageRequest) ([]orchestration.Job, int, error) {
	page = page.Normalize()

	where := ` WHERE 1=1`
	args := []any{}
	if len(filter.IDs) > 0 {
		where += ` AND id IN (?)`
		args = append(args, filter.IDs)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		where += ` AND status IN (?)`
		args = append(args, statuses)
	}
	if filter.Type != "" {
		where += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if len(filter.RequesterSystems) > 0 {
		where += ` AND requester_system IN (?)`
		args = append(args, filter.RequesterSystems)
	}
	if len(filter.TargetSystems) > 0 {
		where += ` AND target_system IN (?)`
		args = append(args, filter.TargetSystems)
	}
	if len(filter.ServiceDefinitions) > 0 {
		where += ` AND service_definition IN (?)`
		args = append(args, filter.ServiceDefinitions)
	}
	if len(filter.SubscriptionIDs) > 0 {
		where += ` AND subscription_id IN (?)`
		args = append(args, filter.SubscriptionIDs)
	}

	countQuery, countArgs, err := sqlx.In(`SELECT COUNT(*) FROM orchestration_jobs`+where, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(countQuery), countArgs...); err != nil {
		return nil, 0, err
	}

	query, queryArgs, err := sqlx.In(`
		SELECT `+jobColumns+`
		FROM orchestration_jobs`+where+`
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, err
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), queryArgs...); err != nil {
		return nil, 0, err
	}
	jobs := make([]orchestration.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, total, nil
}

func (s *Store) DeleteJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM orchestration_jobs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}
