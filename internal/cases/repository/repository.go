// Package repository provides database operations for the cases module.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labcase_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Case represents the cases database model. The case ID is the external
// order number, reused directly as the internal primary key.
type Case struct {
	CaseID              string     `db:"case_id"`
	OrderNumber         string     `db:"order_number"`
	PatientFirstName    string     `db:"patient_first_name"`
	PatientLastName     string     `db:"patient_last_name"`
	ContactEmail        string     `db:"contact_email"`
	Instructions        string     `db:"instructions"`
	UserID              int64      `db:"user_id"`
	CustomerID          int64      `db:"customer_id"`
	LabID               int64      `db:"lab_id"`
	ShipToID            int64      `db:"ship_to_id"`
	CarrierID           int64      `db:"carrier_id"`
	StatusID            int        `db:"status_id"`
	CaseTypeID          int        `db:"case_type_id"`
	Rush                bool       `db:"rush"`
	ItemsApplied        bool       `db:"items_applied"`
	NeedsReview         bool       `db:"needs_review"`
	ReceivedDate        time.Time  `db:"received_date"`
	RequiredDate        time.Time  `db:"required_date"`
	EstimatedReturnDate time.Time  `db:"estimated_return_date"`
	ShipDate            *time.Time `db:"ship_date"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// CaseTransaction is an immutable audit row appended on every status/context change.
type CaseTransaction struct {
	ID        int64     `db:"id"`
	CaseID    string    `db:"case_id"`
	StatusID  int       `db:"status_id"`
	UserID    int64     `db:"user_id"`
	Note      string    `db:"note"`
	CreatedAt time.Time `db:"created_at"`
}

// CaseItem is one decoded product line on a case.
type CaseItem struct {
	ID            int64     `db:"id"`
	CaseID        string    `db:"case_id"`
	ProductName   string    `db:"product_name"`
	ToothLocation string    `db:"tooth_location"`
	Quantity      int       `db:"quantity"`
	ShadeGingival string    `db:"shade_gingival"`
	ShadeBody     string    `db:"shade_body"`
	ShadeIncisal  string    `db:"shade_incisal"`
	UnitPrice     float64   `db:"unit_price"`
	CreatedAt     time.Time `db:"created_at"`
}

// CaseItemTooth is one anatomical location row under a case item.
type CaseItemTooth struct {
	ID         int64  `db:"id"`
	CaseItemID int64  `db:"case_item_id"`
	Location   string `db:"location"`
}

// Attachment is a scan or impression file stored alongside a case.
type Attachment struct {
	ID          int64     `db:"id"`
	CaseID      string    `db:"case_id"`
	FileName    string    `db:"file_name"`
	ContentType string    `db:"content_type"`
	SizeBytes   int64     `db:"size_bytes"`
	ObjectKey   string    `db:"object_key"`
	UploadedBy  int64     `db:"uploaded_by"`
	CreatedAt   time.Time `db:"created_at"`
}

const caseNotFoundMsg = "case not found"

// querier abstracts pgxpool.Pool and pgx.Tx so every operation can run inside
// a caller-supplied unit of work.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides database operations for cases.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new cases repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Begin opens a transaction for a multi-statement unit of work.
func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) q(tx pgx.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.pool
}

// CaseExists reports whether a case with the given ID is already present.
func (r *Repository) CaseExists(ctx context.Context, tx pgx.Tx, caseID string) (bool, error) {
	var exists bool
	err := r.q(tx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cases WHERE case_id = $1)`, caseID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check case existence: %w", err)
	}
	return exists, nil
}

// InsertCase inserts the case row. A primary-key violation is reported as a
// conflict so a race past the duplicate pre-check still rejects cleanly.
func (r *Repository) InsertCase(ctx context.Context, tx pgx.Tx, c *Case) error {
	query := `
		INSERT INTO cases (
			case_id, order_number, patient_first_name, patient_last_name, contact_email,
			instructions, user_id, customer_id, lab_id, ship_to_id, carrier_id,
			status_id, case_type_id, rush, items_applied, needs_review,
			received_date, required_date, estimated_return_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)`

	_, err := r.q(tx).Exec(ctx, query,
		c.CaseID, c.OrderNumber, c.PatientFirstName, c.PatientLastName, c.ContactEmail,
		c.Instructions, c.UserID, c.CustomerID, c.LabID, c.ShipToID, c.CarrierID,
		c.StatusID, c.CaseTypeID, c.Rush, c.ItemsApplied, c.NeedsReview,
		c.ReceivedDate, c.RequiredDate, c.EstimatedReturnDate, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("case %s already imported", c.CaseID))
		}
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

// InsertTransaction appends a case audit row.
func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *CaseTransaction) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO case_transactions (case_id, status_id, user_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		t.CaseID, t.StatusID, t.UserID, t.Note, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to insert case transaction: %w", err)
	}
	return nil
}

// InsertItem inserts a decoded case item and populates its generated ID.
func (r *Repository) InsertItem(ctx context.Context, tx pgx.Tx, item *CaseItem) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO case_items (
			case_id, product_name, tooth_location, quantity,
			shade_gingival, shade_body, shade_incisal, unit_price, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		item.CaseID, item.ProductName, item.ToothLocation, item.Quantity,
		item.ShadeGingival, item.ShadeBody, item.ShadeIncisal, item.UnitPrice, item.CreatedAt,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("failed to insert case item: %w", err)
	}
	return nil
}

// InsertItemTooth inserts one anatomical location row for a case item.
func (r *Repository) InsertItemTooth(ctx context.Context, tx pgx.Tx, caseItemID int64, location string) error {
	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO case_item_teeth (case_item_id, location) VALUES ($1, $2)`,
		caseItemID, location,
	)
	if err != nil {
		return fmt.Errorf("failed to insert case item tooth: %w", err)
	}
	return nil
}

// MarkItemsApplied flags line-item processing complete, sets the case type,
// and records whether the case needs manual review.
func (r *Repository) MarkItemsApplied(ctx context.Context, tx pgx.Tx, caseID string, caseTypeID int, needsReview bool) error {
	result, err := r.q(tx).Exec(ctx, `
		UPDATE cases SET items_applied = TRUE, case_type_id = $2, needs_review = $3, updated_at = $4
		WHERE case_id = $1`,
		caseID, caseTypeID, needsReview, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark items applied: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(caseNotFoundMsg)
	}
	return nil
}

// GetByID retrieves a case by its ID.
func (r *Repository) GetByID(ctx context.Context, caseID string) (*Case, error) {
	var c Case
	err := r.pool.QueryRow(ctx, `
		SELECT case_id, order_number, patient_first_name, patient_last_name, contact_email,
			instructions, user_id, customer_id, lab_id, ship_to_id, carrier_id,
			status_id, case_type_id, rush, items_applied, needs_review,
			received_date, required_date, estimated_return_date, ship_date, created_at, updated_at
		FROM cases WHERE case_id = $1`, caseID).Scan(
		&c.CaseID, &c.OrderNumber, &c.PatientFirstName, &c.PatientLastName, &c.ContactEmail,
		&c.Instructions, &c.UserID, &c.CustomerID, &c.LabID, &c.ShipToID, &c.CarrierID,
		&c.StatusID, &c.CaseTypeID, &c.Rush, &c.ItemsApplied, &c.NeedsReview,
		&c.ReceivedDate, &c.RequiredDate, &c.EstimatedReturnDate, &c.ShipDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(caseNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return &c, nil
}

// ListParams contains parameters for listing cases.
type ListParams struct {
	StatusID *int
	Rush     *bool
	Page     int
	PageSize int
}

// List returns a page of cases ordered by received date, newest first.
func (r *Repository) List(ctx context.Context, params ListParams) ([]Case, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 200 {
		params.PageSize = 50
	}

	where := "WHERE ($1::int IS NULL OR status_id = $1) AND ($2::boolean IS NULL OR rush = $2)"

	var total int
	if err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM cases "+where, params.StatusID, params.Rush).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT case_id, order_number, patient_first_name, patient_last_name, contact_email,
			instructions, user_id, customer_id, lab_id, ship_to_id, carrier_id,
			status_id, case_type_id, rush, items_applied, needs_review,
			received_date, required_date, estimated_return_date, ship_date, created_at, updated_at
		FROM cases `+where+`
		ORDER BY received_date DESC, case_id
		LIMIT $3 OFFSET $4`,
		params.StatusID, params.Rush, params.PageSize, (params.Page-1)*params.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		var c Case
		if err := rows.Scan(
			&c.CaseID, &c.OrderNumber, &c.PatientFirstName, &c.PatientLastName, &c.ContactEmail,
			&c.Instructions, &c.UserID, &c.CustomerID, &c.LabID, &c.ShipToID, &c.CarrierID,
			&c.StatusID, &c.CaseTypeID, &c.Rush, &c.ItemsApplied, &c.NeedsReview,
			&c.ReceivedDate, &c.RequiredDate, &c.EstimatedReturnDate, &c.ShipDate, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ListItems returns the decoded items for a case with their tooth rows.
func (r *Repository) ListItems(ctx context.Context, caseID string) ([]CaseItem, map[int64][]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, case_id, product_name, tooth_location, quantity,
			shade_gingival, shade_body, shade_incisal, unit_price, created_at
		FROM case_items WHERE case_id = $1 ORDER BY id`, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list case items: %w", err)
	}
	defer rows.Close()

	var items []CaseItem
	for rows.Next() {
		var item CaseItem
		if err := rows.Scan(
			&item.ID, &item.CaseID, &item.ProductName, &item.ToothLocation, &item.Quantity,
			&item.ShadeGingival, &item.ShadeBody, &item.ShadeIncisal, &item.UnitPrice, &item.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan case item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	teeth := make(map[int64][]string)
	toothRows, err := r.pool.Query(ctx, `
		SELECT t.case_item_id, t.location
		FROM case_item_teeth t
		JOIN case_items i ON i.id = t.case_item_id
		WHERE i.case_id = $1 ORDER BY t.id`, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list case item teeth: %w", err)
	}
	defer toothRows.Close()

	for toothRows.Next() {
		var itemID int64
		var location string
		if err := toothRows.Scan(&itemID, &location); err != nil {
			return nil, nil, fmt.Errorf("failed to scan case item tooth: %w", err)
		}
		teeth[itemID] = append(teeth[itemID], location)
	}
	return items, teeth, toothRows.Err()
}

// GetStatus returns the case's current status code.
func (r *Repository) GetStatus(ctx context.Context, tx pgx.Tx, caseID string) (int, error) {
	var statusID int
	err := r.q(tx).QueryRow(ctx,
		`SELECT status_id FROM cases WHERE case_id = $1`, caseID).Scan(&statusID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound(caseNotFoundMsg)
		}
		return 0, fmt.Errorf("failed to get case status: %w", err)
	}
	return statusID, nil
}

// UpdateStatus moves the case to a new status.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, caseID string, statusID int) error {
	result, err := r.q(tx).Exec(ctx, `
		UPDATE cases SET status_id = $2, updated_at = $3 WHERE case_id = $1`,
		caseID, statusID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update case status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound(caseNotFoundMsg)
	}
	return nil
}

// StatusExists reports whether a status code is defined.
func (r *Repository) StatusExists(ctx context.Context, statusID int) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM case_statuses WHERE id = $1)`, statusID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check status existence: %w", err)
	}
	return exists, nil
}

// InsertAttachment records an uploaded case file.
func (r *Repository) InsertAttachment(ctx context.Context, a *Attachment) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO case_attachments (case_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		a.CaseID, a.FileName, a.ContentType, a.SizeBytes, a.ObjectKey, a.UploadedBy, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert case attachment: %w", err)
	}
	return nil
}

// ListAttachments returns a case's attachments, newest first.
func (r *Repository) ListAttachments(ctx context.Context, caseID string) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, case_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM case_attachments WHERE case_id = $1 ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list case attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.CaseID, &a.FileName, &a.ContentType, &a.SizeBytes, &a.ObjectKey, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan case attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
