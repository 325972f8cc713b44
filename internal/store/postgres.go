package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/wilsonge/no8s-operator/internal/apperrors"
	"github.com/wilsonge/no8s-operator/internal/model"
)

// PGStore is the Postgres-backed Store implementation. Every exported
// method runs as exactly one transaction.
type PGStore struct {
	db *sqlx.DB
}

// Connect opens a pooled Postgres connection using the pgx stdlib
// driver and wraps it with sqlx.
func Connect(ctx context.Context, dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*PGStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeTransient, "connecting to database")
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)
	return &PGStore{db: db}, nil
}

// NewWithDB wraps an already-open sqlx.DB (used by tests with sqlmock).
func NewWithDB(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

// resourceRow mirrors the resources table for scanning; jsonb/array
// columns are scanned as raw bytes/strings and decoded separately so
// the exported model.Resource can use richer Go types ([]string,
// json.RawMessage) than database/sql understands natively.
type resourceRow struct {
	ID                  int64        `db:"id"`
	Name                string       `db:"name"`
	ResourceTypeName    string       `db:"resource_type_name"`
	ResourceTypeVersion string       `db:"resource_type_version"`
	ActionPlugin        string       `db:"action_plugin"`
	Spec                []byte       `db:"spec"`
	SpecHash            string       `db:"spec_hash"`
	Status              string       `db:"status"`
	StatusMessage       string       `db:"status_message"`
	Generation          int64        `db:"generation"`
	ObservedGeneration  int64        `db:"observed_generation"`
	Finalizers          []byte       `db:"finalizers"`
	PluginConfig        []byte       `db:"plugin_config"`
	Metadata            []byte       `db:"metadata"`
	Outputs             []byte       `db:"outputs"`
	NextReconcileTime   sql.NullTime `db:"next_reconcile_time"`
	LastReconcileTime   sql.NullTime `db:"last_reconcile_time"`
	RetryCount          int          `db:"retry_count"`
	DeletedAt           sql.NullTime `db:"deleted_at"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

func (row resourceRow) toModel() (model.Resource, error) {
	r := model.Resource{
		ID:                  row.ID,
		Name:                row.Name,
		ResourceTypeName:    row.ResourceTypeName,
		ResourceTypeVersion: row.ResourceTypeVersion,
		ActionPlugin:        row.ActionPlugin,
		Spec:                json.RawMessage(row.Spec),
		SpecHash:            row.SpecHash,
		Status:              model.ResourceStatus(row.Status),
		StatusMessage:       row.StatusMessage,
		Generation:          row.Generation,
		ObservedGeneration:  row.ObservedGeneration,
		PluginConfig:        json.RawMessage(row.PluginConfig),
		Metadata:            json.RawMessage(row.Metadata),
		Outputs:             json.RawMessage(row.Outputs),
		RetryCount:          row.RetryCount,
	}
	if len(row.Finalizers) > 0 {
		if err := json.Unmarshal(row.Finalizers, &r.Finalizers); err != nil {
			return model.Resource{}, err
		}
	}
	if row.NextReconcileTime.Valid {
		t := row.NextReconcileTime.Time
		r.NextReconcileTime = &t
	}
	if row.LastReconcileTime.Valid {
		t := row.LastReconcileTime.Time
		r.LastReconcileTime = &t
	}
	if row.DeletedAt.Valid {
		t := row.DeletedAt.Time
		r.DeletedAt = &t
	}
	r.CreatedAt = row.CreatedAt
	r.UpdatedAt = row.UpdatedAt
	return r, nil
}

func rowsToModels(rows []resourceRow) ([]model.Resource, error) {
	out := make([]model.Resource, 0, len(rows))
	for _, row := range rows {
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// --- Resource types ---------------------------------------------------

func (s *PGStore) CreateResourceType(ctx context.Context, rt *model.ResourceType) (int64, error) {
	status := rt.Status
	if status == "" {
		status = model.ResourceTypeActive
	}
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO resource_types (name, version, json_schema, description, status, metadata, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			RETURNING id`,
			rt.Name, rt.Version, []byte(rt.JSONSchema), rt.Description, status, nullableJSON(rt.Metadata),
		).Scan(&id)
	})
	if err != nil {
		return 0, translatePGError(err, "create_resource_type")
	}
	return id, nil
}

func (s *PGStore) GetResourceType(ctx context.Context, name, version string) (*model.ResourceType, error) {
	var rt model.ResourceType
	var schema, metadata []byte
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, name, version, json_schema, description, status, metadata, created_at, updated_at
		FROM resource_types WHERE name = $1 AND version = $2`, name, version,
	).Scan(&rt.ID, &rt.Name, &rt.Version, &schema, &rt.Description, &rt.Status, &metadata, &rt.CreatedAt, &rt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("resource type %s/%s", name, version))
	}
	if err != nil {
		return nil, translatePGError(err, "get_resource_type")
	}
	rt.JSONSchema = schema
	rt.Metadata = metadata
	return &rt, nil
}

func (s *PGStore) ListResourceTypes(ctx context.Context, name string, limit int) ([]model.ResourceType, error) {
	query := `SELECT id, name, version, json_schema, description, status, metadata, created_at, updated_at FROM resource_types`
	args := []any{}
	if name != "" {
		query += " WHERE name = $1"
		args = append(args, name)
	}
	query += fmt.Sprintf(" ORDER BY name, version LIMIT %d", limit)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, translatePGError(err, "list_resource_types")
	}
	defer rows.Close()

	var out []model.ResourceType
	for rows.Next() {
		var rt model.ResourceType
		var schema, metadata []byte
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Version, &schema, &rt.Description, &rt.Status, &metadata, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
			return nil, translatePGError(err, "list_resource_types")
		}
		rt.JSONSchema = schema
		rt.Metadata = metadata
		out = append(out, rt)
	}
	return out, rows.Err()
}

// UpdateResourceType mutates the schema/description/status of an
// existing type; metadata is not changed, and (name, version) is
// immutable per spec.md §3.
func (s *PGStore) UpdateResourceType(ctx context.Context, id int64, schema json.RawMessage, description string, status model.ResourceTypeStatus) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE resource_types SET json_schema = $1, description = $2, status = $3, updated_at = now()
			WHERE id = $4`, []byte(schema), description, status, id)
		if err != nil {
			return translatePGError(err, "update_resource_type")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource type id=%d", id))
	})
}

// DeleteResourceType removes a type definition, failing with a Conflict
// error if any resource still references it (spec.md §7).
func (s *PGStore) DeleteResourceType(ctx context.Context, name, version string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM resources WHERE resource_type_name = $1 AND resource_type_version = $2`,
			name, version).Scan(&count); err != nil {
			return translatePGError(err, "delete_resource_type")
		}
		if count > 0 {
			return apperrors.NewConflictError(fmt.Sprintf("resource type %s/%s is still referenced by %d resource(s)", name, version, count))
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM resource_types WHERE name = $1 AND version = $2`, name, version)
		if err != nil {
			return translatePGError(err, "delete_resource_type")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource type %s/%s", name, version))
	})
}

// --- Resources ----------------------------------------------------------

func (s *PGStore) CreateResource(ctx context.Context, r *model.Resource) (int64, error) {
	hash, err := SpecHash(r.Spec)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid spec JSON").WithDetails(err.Error())
	}

	finalizers := r.Finalizers
	if finalizers == nil {
		// Default finalizer is the claiming action plugin itself, so a
		// resource with a direct executor always blocks hard deletion
		// until that executor has torn down what it created (spec.md
		// §4.1: "persists finalizers (default [action_plugin])").
		if r.ActionPlugin != "" {
			finalizers = []string{r.ActionPlugin}
		} else {
			finalizers = []string{}
		}
	}
	finalizersJSON, _ := json.Marshal(finalizers)

	var id int64
	txErr := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO resources (
				name, resource_type_name, resource_type_version, action_plugin, spec, spec_hash,
				status, status_message, generation, observed_generation, finalizers,
				plugin_config, metadata, outputs, retry_count, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,0,$9,$10,$11,'{}'::jsonb,0, now(), now())
			RETURNING id`,
			r.Name, r.ResourceTypeName, r.ResourceTypeVersion, r.ActionPlugin, []byte(r.Spec), hash,
			model.StatusPending, "", finalizersJSON, nullableJSON(r.PluginConfig), nullableJSON(r.Metadata),
		).Scan(&id)
	})
	if txErr != nil {
		return 0, translatePGError(txErr, "create_resource")
	}
	return id, nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return []byte(raw)
}

func (s *PGStore) GetResource(ctx context.Context, id int64) (*model.Resource, error) {
	var row resourceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM resources WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("resource id=%d", id))
	}
	if err != nil {
		return nil, translatePGError(err, "get_resource")
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) GetResourceByName(ctx context.Context, name, resourceTypeName, resourceTypeVersion string) (*model.Resource, error) {
	var row resourceRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM resources
		WHERE name = $1 AND resource_type_name = $2 AND resource_type_version = $3 AND deleted_at IS NULL`,
		name, resourceTypeName, resourceTypeVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("resource %s (%s/%s)", name, resourceTypeName, resourceTypeVersion))
	}
	if err != nil {
		return nil, translatePGError(err, "get_resource_by_name")
	}
	m, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PGStore) UpdateResourceSpec(ctx context.Context, id int64, spec json.RawMessage) error {
	hash, err := SpecHash(spec)
	if err != nil {
		return apperrors.NewValidationError("invalid spec JSON").WithDetails(err.Error())
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE resources
			SET spec = $1, spec_hash = $2, generation = generation + 1, updated_at = now()
			WHERE id = $3 AND deleted_at IS NULL`, []byte(spec), hash, id)
		if err != nil {
			return translatePGError(err, "update_resource_spec")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

func (s *PGStore) ListResources(ctx context.Context, status model.ResourceStatus, actionPlugin string, limit int) ([]model.Resource, error) {
	query := `SELECT * FROM resources WHERE deleted_at IS NULL`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if actionPlugin != "" {
		args = append(args, actionPlugin)
		query += fmt.Sprintf(" AND action_plugin = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY id LIMIT %d", limit)

	var rows []resourceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, translatePGError(err, "list_resources")
	}
	return rowsToModels(rows)
}

// UpdateResourceStatus sets status/message and, when given, the observed
// generation. Reaching ready or failed also applies the side effects
// spec.md §4.1 describes for those transitions: a successful reconcile
// clears the retry backoff and schedules the next routine pass; a
// failed one advances the retry counter so the requeue loop's backoff
// calculation sees it.
func (s *PGStore) UpdateResourceStatus(ctx context.Context, id int64, status model.ResourceStatus, message string, observedGeneration *int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var res sql.Result
		var err error
		switch status {
		case model.StatusReady:
			res, err = tx.ExecContext(ctx, `
				UPDATE resources SET status = $1, status_message = $2,
					observed_generation = COALESCE($3, observed_generation),
					last_reconcile_time = now(), retry_count = 0,
					next_reconcile_time = now() + interval '5 minutes',
					updated_at = now()
				WHERE id = $4`, status, message, observedGeneration, id)
		case model.StatusFailed:
			res, err = tx.ExecContext(ctx, `
				UPDATE resources SET status = $1, status_message = $2,
					observed_generation = COALESCE($3, observed_generation),
					last_reconcile_time = now(), retry_count = retry_count + 1,
					updated_at = now()
				WHERE id = $4`, status, message, observedGeneration, id)
		default:
			res, err = tx.ExecContext(ctx, `
				UPDATE resources SET status = $1, status_message = $2,
					observed_generation = COALESCE($3, observed_generation),
					updated_at = now()
				WHERE id = $4`, status, message, observedGeneration, id)
		}
		if err != nil {
			return translatePGError(err, "update_resource_status")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

// eligibilityClause is shared between the two "needs reconciliation"
// queries: a resource is due when it has never been reconciled, when
// its spec has changed since the last reconcile (generation ahead of
// observed_generation), when it's scheduled (next_reconcile_time due),
// when it previously failed and its backoff has elapsed, or when it's
// marked for deletion. 'reconciling' is excluded outright: a resource
// already claimed by another worker must never be claimed twice.
const eligibilityClause = `
	(deleted_at IS NULL OR status = 'deleting')
	AND (
		last_reconcile_time IS NULL
		OR generation > observed_generation
		OR next_reconcile_time <= now()
		OR (status = 'failed' AND next_reconcile_time <= now())
		OR status = 'deleting'
	)
	AND status != 'reconciling'
`

func (s *PGStore) GetResourcesNeedingReconciliation(ctx context.Context, limit int) ([]model.Resource, error) {
	return s.selectAndClaim(ctx, "", nil, limit)
}

func (s *PGStore) GetResourcesNeedingReconciliationByType(ctx context.Context, resourceTypeNames []string, limit int) ([]model.Resource, error) {
	return s.selectAndClaim(ctx, "AND resource_type_name = ANY($1)", resourceTypeNames, limit)
}

// selectAndClaim runs the priority-ordered SELECT ... FOR UPDATE SKIP
// LOCKED and the status-flip UPDATE inside one transaction, so
// concurrent callers (multiple dispatcher goroutines, or a dispatcher
// racing a direct caller) can never both claim the same resource. This
// is the chosen resolution of the writer/dispatcher race: see
// DESIGN.md's Open Question 1.
func (s *PGStore) selectAndClaim(ctx context.Context, extraFilter string, filterArg any, limit int) ([]model.Resource, error) {
	var rows []resourceRow
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := fmt.Sprintf(`
			SELECT * FROM resources
			WHERE (%s) %s
			ORDER BY
				CASE status WHEN 'deleting' THEN 0 WHEN 'pending' THEN 1 WHEN 'failed' THEN 2 ELSE 3 END,
				next_reconcile_time ASC NULLS FIRST,
				id
			LIMIT %d
			FOR UPDATE SKIP LOCKED`, eligibilityClause, extraFilter, limit)

		var args []any
		if filterArg != nil {
			args = append(args, filterArg)
		}
		if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
			return translatePGError(err, "select_resources_needing_reconciliation")
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]int64, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		_, err := tx.ExecContext(ctx, `UPDATE resources SET status = 'reconciling', updated_at = now() WHERE id = ANY($1)`, ids)
		if err != nil {
			return translatePGError(err, "claim_resources_needing_reconciliation")
		}
		for i := range rows {
			rows[i].Status = string(model.StatusReconciling)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rowsToModels(rows)
}

func (s *PGStore) MarkResourceForReconciliation(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		// next_reconcile_time must be set to now(), not NULL or left
		// alone: eligibilityClause only picks up a row with no prior
		// reconcile, a generation ahead of observed, a due
		// next_reconcile_time, or status=deleting. An already-reconciled,
		// non-failed resource satisfies none of those on status='pending'
		// alone, so the manual trigger would otherwise be a silent no-op.
		res, err := tx.ExecContext(ctx, `
			UPDATE resources SET status = 'pending', next_reconcile_time = now(), updated_at = now()
			WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return translatePGError(err, "mark_resource_for_reconciliation")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

func (s *PGStore) SoftDeleteResource(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE resources SET deleted_at = now(), status = 'deleting', updated_at = now()
			WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return translatePGError(err, "soft_delete_resource")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

func (s *PGStore) HardDeleteResource(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM resources
			WHERE id = $1 AND deleted_at IS NOT NULL AND finalizers = '[]'::jsonb`, id)
		if err != nil {
			return translatePGError(err, "hard_delete_resource")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return translatePGError(err, "hard_delete_resource")
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func (s *PGStore) AddFinalizer(ctx context.Context, id int64, finalizer string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE resources
			SET finalizers = (
				SELECT jsonb_agg(DISTINCT e) FROM jsonb_array_elements_text(finalizers || to_jsonb($2::text)) AS e
			), updated_at = now()
			WHERE id = $1`, id, finalizer)
		if err != nil {
			return translatePGError(err, "add_finalizer")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

func (s *PGStore) RemoveFinalizer(ctx context.Context, id int64, finalizer string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE resources
			SET finalizers = COALESCE((
				SELECT jsonb_agg(e) FROM jsonb_array_elements_text(finalizers) AS e WHERE e <> $2
			), '[]'::jsonb), updated_at = now()
			WHERE id = $1`, id, finalizer)
		if err != nil {
			return translatePGError(err, "remove_finalizer")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

func (s *PGStore) GetFinalizers(ctx context.Context, id int64) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowxContext(ctx, `SELECT finalizers FROM resources WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("resource id=%d", id))
	}
	if err != nil {
		return nil, translatePGError(err, "get_finalizers")
	}
	var out []string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *PGStore) SetOutputs(ctx context.Context, id int64, outputs json.RawMessage) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE resources SET outputs = $1, updated_at = now() WHERE id = $2`, []byte(outputs), id)
		if err != nil {
			return translatePGError(err, "set_outputs")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

// --- Requeue scheduling --------------------------------------------------

func (s *PGStore) GetResourcesDueForRequeue(ctx context.Context, now time.Time, limit int) ([]model.Resource, error) {
	var rows []resourceRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM resources
		WHERE deleted_at IS NULL AND status = 'failed' AND next_reconcile_time <= $1
		ORDER BY next_reconcile_time
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, translatePGError(err, "get_resources_due_for_requeue")
	}
	return rowsToModels(rows)
}

// ScheduleRequeue recomputes next_reconcile_time for a failed resource.
// Status is left as 'failed': the priority query's unconditional
// "next_reconcile_time <= now()" branch is what makes it eligible again
// once the backoff elapses, matching the original requeue_failed_resources
// (which touches only next_reconcile_time, never status).
func (s *PGStore) ScheduleRequeue(ctx context.Context, id int64, nextReconcileTime time.Time) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE resources SET next_reconcile_time = $1, updated_at = now()
			WHERE id = $2`, nextReconcileTime, id)
		if err != nil {
			return translatePGError(err, "schedule_requeue")
		}
		return requireRowsAffected(res, fmt.Sprintf("resource id=%d", id))
	})
}

// --- Conditions -----------------------------------------------------------

func (s *PGStore) SetCondition(ctx context.Context, resourceID int64, cond model.Condition) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conditions (resource_id, type, status, reason, message, observed_generation, last_transition_time)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (resource_id, type) DO UPDATE SET
				status = EXCLUDED.status,
				reason = EXCLUDED.reason,
				message = EXCLUDED.message,
				observed_generation = EXCLUDED.observed_generation,
				last_transition_time = CASE WHEN conditions.status <> EXCLUDED.status THEN now() ELSE conditions.last_transition_time END`,
			resourceID, cond.Type, cond.Status, cond.Reason, cond.Message, cond.ObservedGeneration)
		if err != nil {
			return translatePGError(err, "set_condition")
		}
		return nil
	})
}

func (s *PGStore) GetConditions(ctx context.Context, resourceID int64) ([]model.Condition, error) {
	var out []model.Condition
	err := s.db.SelectContext(ctx, &out, `
		SELECT type, status, reason, message, observed_generation, last_transition_time
		FROM conditions WHERE resource_id = $1 ORDER BY type`, resourceID)
	if err != nil {
		return nil, translatePGError(err, "get_conditions")
	}
	return out, nil
}

// --- Reconciliation history -----------------------------------------------

func (s *PGStore) RecordReconciliation(ctx context.Context, h model.ReconciliationHistory) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		// generation is h.Generation when that is set; otherwise it is
		// read from the resource row in the same transaction (invariant
		// 6: "every history row's generation equals the generation on
		// the resource at the moment of the attempt").
		var generation int64
		if h.Generation != 0 {
			generation = h.Generation
		} else if err := tx.QueryRowContext(ctx, `SELECT generation FROM resources WHERE id = $1`, h.ResourceID).Scan(&generation); err != nil {
			return translatePGError(err, "record_reconciliation")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reconciliation_history
				(resource_id, generation, success, phase, plan_output, apply_output, error_message,
				 resources_created, resources_updated, resources_deleted,
				 duration_seconds, trigger_reason, drift_detected, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())`,
			h.ResourceID, generation, h.Success, h.Phase, nullString(h.PlanOutput), nullString(h.ApplyOutput),
			nullString(h.ErrorMessage), h.ResourcesCreated, h.ResourcesUpdated, h.ResourcesDeleted,
			h.DurationSeconds, h.TriggerReason, h.DriftDetected)
		if err != nil {
			return translatePGError(err, "record_reconciliation")
		}
		return nil
	})
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PGStore) GetReconciliationHistory(ctx context.Context, resourceID int64, limit int) ([]model.ReconciliationHistory, error) {
	var out []model.ReconciliationHistory
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, resource_id, generation, success, phase,
			COALESCE(plan_output, '') AS plan_output, COALESCE(apply_output, '') AS apply_output,
			COALESCE(error_message, '') AS error_message,
			resources_created, resources_updated, resources_deleted,
			duration_seconds, trigger_reason, drift_detected, created_at
		FROM reconciliation_history WHERE resource_id = $1
		ORDER BY created_at DESC LIMIT $2`, resourceID, limit)
	if err != nil {
		return nil, translatePGError(err, "get_reconciliation_history")
	}
	return out, nil
}

// --- Admission webhooks ----------------------------------------------------

func (s *PGStore) CreateAdmissionWebhook(ctx context.Context, w *model.AdmissionWebhook) (int64, error) {
	opsJSON, _ := json.Marshal(w.Operations)
	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO admission_webhooks
				(name, resource_type_name, resource_type_version, webhook_type, webhook_url, operations, failure_policy, timeout_seconds, ordering, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
			RETURNING id`,
			w.Name, w.ResourceTypeName, w.ResourceTypeVersion, w.WebhookType, w.WebhookURL,
			opsJSON, w.FailurePolicy, w.TimeoutSeconds, w.Ordering,
		).Scan(&id)
	})
	if err != nil {
		return 0, translatePGError(err, "create_admission_webhook")
	}
	return id, nil
}

// GetMatchingWebhooks implements spec.md §4.3 step 1's match rule: a
// NULL resource_type_name/version on the webhook row means "match
// all", so the predicate must accept the row outright instead of
// comparing NULL to the caller's (non-NULL) type/version.
func (s *PGStore) GetMatchingWebhooks(ctx context.Context, resourceTypeName, resourceTypeVersion, operation string) ([]model.AdmissionWebhook, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, name, resource_type_name, resource_type_version, webhook_type, webhook_url,
			operations, failure_policy, timeout_seconds, ordering, created_at
		FROM admission_webhooks
		WHERE (resource_type_name IS NULL OR resource_type_name = $1)
			AND (resource_type_version IS NULL OR resource_type_version = $2)
			AND operations @> to_jsonb($3::text)
		ORDER BY ordering ASC, id ASC`, resourceTypeName, resourceTypeVersion, operation)
	if err != nil {
		return nil, translatePGError(err, "get_matching_webhooks")
	}
	defer rows.Close()

	var out []model.AdmissionWebhook
	for rows.Next() {
		var w model.AdmissionWebhook
		var opsJSON []byte
		if err := rows.Scan(&w.ID, &w.Name, &w.ResourceTypeName, &w.ResourceTypeVersion, &w.WebhookType,
			&w.WebhookURL, &opsJSON, &w.FailurePolicy, &w.TimeoutSeconds, &w.Ordering, &w.CreatedAt); err != nil {
			return nil, translatePGError(err, "get_matching_webhooks")
		}
		_ = json.Unmarshal(opsJSON, &w.Operations)
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- helpers ---------------------------------------------------------------

func (s *PGStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransient, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeTransient, "committing transaction")
	}
	return nil
}

func requireRowsAffected(res sql.Result, resourceDescription string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translatePGError(err, "rows_affected")
	}
	if n == 0 {
		return apperrors.NewNotFoundError(resourceDescription)
	}
	return nil
}

// translatePGError wraps a raw database error as an ErrorTypeTransient
// AppError unless it's already an *apperrors.AppError (e.g. raised
// explicitly by requireRowsAffected).
func translatePGError(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *apperrors.AppError
	if errors.As(err, &ae) {
		return err
	}
	return apperrors.NewTransientError(op, err)
}
