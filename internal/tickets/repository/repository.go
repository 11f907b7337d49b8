// Package repository provides database operations for the tickets module.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labcase_backend/internal/tickets/token"
	"labcase_backend/platform/apperr"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EmailTemplate holds the default addressing and body for a ticket category.
// DefaultScheduledStatusID of zero means the template carries no
// scheduled-status default.
type EmailTemplate struct {
	ID                       int    `db:"id"`
	Name                     string `db:"name"`
	FromAddress              string `db:"from_address"`
	ToAddress                string `db:"to_address"`
	CcAddress                string `db:"cc_address"`
	BccAddress               string `db:"bcc_address"`
	Subject                  string `db:"subject"`
	Message                  string `db:"message"`
	DefaultScheduledStatusID int    `db:"default_scheduled_status_id"`
}

// Ticket is the per-case numbered ticket header.
type Ticket struct {
	ID           int64     `db:"id"`
	CaseID       string    `db:"case_id"`
	TicketNumber int       `db:"ticket_number"`
	Status       string    `db:"status"`
	CreatedBy    int64     `db:"created_by"`
	CreatedAt    time.Time `db:"created_at"`
}

// TicketDetail is the composed email content under a ticket. The status
// snapshot is the case's status code at composition time, not a live reference.
type TicketDetail struct {
	ID             int64      `db:"id"`
	TicketID       int64      `db:"ticket_id"`
	DetailNumber   int        `db:"detail_number"`
	Action         string     `db:"action"`
	FromAddress    string     `db:"from_address"`
	ToAddress      string     `db:"to_address"`
	CcAddress      string     `db:"cc_address"`
	BccAddress     string     `db:"bcc_address"`
	Subject        string     `db:"subject"`
	Message        string     `db:"message"`
	StatusSnapshot int        `db:"status_snapshot"`
	EmailSent      bool       `db:"email_sent"`
	EmailSentAt    *time.Time `db:"email_sent_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// AssignmentLog records who a ticket detail was handed to, append-only.
type AssignmentLog struct {
	ID         int64     `db:"id"`
	DetailID   int64     `db:"detail_id"`
	AssigneeID int64     `db:"assignee_id"`
	CreatedAt  time.Time `db:"created_at"`
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides database operations for tickets.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new tickets repository.
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

// GetTemplate fetches an email template by ID.
func (r *Repository) GetTemplate(ctx context.Context, tx pgx.Tx, templateID int) (*EmailTemplate, error) {
	var t EmailTemplate
	err := r.q(tx).QueryRow(ctx, `
		SELECT id, name, from_address, to_address, cc_address, bcc_address, subject, message, default_scheduled_status_id
		FROM email_templates WHERE id = $1`, templateID).Scan(
		&t.ID, &t.Name, &t.FromAddress, &t.ToAddress, &t.CcAddress, &t.BccAddress, &t.Subject, &t.Message,
		&t.DefaultScheduledStatusID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(fmt.Sprintf("email template %d not found", templateID))
		}
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return &t, nil
}

// NextTicketNumber allocates max+1 within the current unit of work. The
// UNIQUE (case_id, ticket_number) constraint is the guard against two
// concurrent units racing past this read.
func (r *Repository) NextTicketNumber(ctx context.Context, tx pgx.Tx, caseID string) (int, error) {
	var next int
	err := r.q(tx).QueryRow(ctx, `
		SELECT COALESCE(MAX(ticket_number), 0) + 1 FROM case_tickets WHERE case_id = $1`,
		caseID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate ticket number: %w", err)
	}
	return next, nil
}

// GetCaseContact returns the case's current status code and owning user.
func (r *Repository) GetCaseContact(ctx context.Context, tx pgx.Tx, caseID string) (statusID int, userID int64, err error) {
	err = r.q(tx).QueryRow(ctx,
		`SELECT status_id, user_id FROM cases WHERE case_id = $1`, caseID).Scan(&statusID, &userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, apperr.NotFound("case not found")
		}
		return 0, 0, fmt.Errorf("failed to get case contact: %w", err)
	}
	return statusID, userID, nil
}

// GetUserEmail returns a user's email address, or "" when the user is absent.
func (r *Repository) GetUserEmail(ctx context.Context, tx pgx.Tx, userID int64) (string, error) {
	var email string
	err := r.q(tx).QueryRow(ctx,
		`SELECT COALESCE(email, '') FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get user email: %w", err)
	}
	return email, nil
}

// InsertTicket inserts the ticket header and populates its generated ID.
// A (case_id, ticket_number) violation is surfaced as a conflict so the
// caller can reallocate and retry.
func (r *Repository) InsertTicket(ctx context.Context, tx pgx.Tx, t *Ticket) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO case_tickets (case_id, ticket_number, status, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		t.CaseID, t.TicketNumber, t.Status, t.CreatedBy, t.CreatedAt,
	).Scan(&t.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Conflict(fmt.Sprintf("ticket number %d already taken for case %s", t.TicketNumber, t.CaseID))
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// InsertTicketDetail inserts the detail row and populates its generated ID.
func (r *Repository) InsertTicketDetail(ctx context.Context, tx pgx.Tx, d *TicketDetail) error {
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO case_ticket_details (
			ticket_id, detail_number, action, from_address, to_address, cc_address,
			bcc_address, subject, message, status_snapshot, email_sent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		d.TicketID, d.DetailNumber, d.Action, d.FromAddress, d.ToAddress, d.CcAddress,
		d.BccAddress, d.Subject, d.Message, d.StatusSnapshot, d.EmailSent, d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to insert ticket detail: %w", err)
	}
	return nil
}

// LatestAssignee returns the most recent assignment for a detail, or 0 when
// no assignment exists yet.
func (r *Repository) LatestAssignee(ctx context.Context, tx pgx.Tx, detailID int64) (int64, error) {
	var assignee int64
	err := r.q(tx).QueryRow(ctx, `
		SELECT assignee_id FROM case_ticket_assignment_logs
		WHERE detail_id = $1 ORDER BY id DESC LIMIT 1`, detailID).Scan(&assignee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get latest assignee: %w", err)
	}
	return assignee, nil
}

// InsertAssignmentLog appends an assignment-log row.
func (r *Repository) InsertAssignmentLog(ctx context.Context, tx pgx.Tx, detailID, assigneeID int64) error {
	_, err := r.q(tx).Exec(ctx, `
		INSERT INTO case_ticket_assignment_logs (detail_id, assignee_id, created_at)
		VALUES ($1, $2, $3)`,
		detailID, assigneeID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment log: %w", err)
	}
	return nil
}

// GetDetail loads a detail row with its ticket header, used by the email worker.
func (r *Repository) GetDetail(ctx context.Context, detailID int64) (*TicketDetail, *Ticket, error) {
	var d TicketDetail
	var t Ticket
	err := r.pool.QueryRow(ctx, `
		SELECT d.id, d.ticket_id, d.detail_number, d.action, d.from_address, d.to_address,
			d.cc_address, d.bcc_address, d.subject, d.message, d.status_snapshot,
			d.email_sent, d.email_sent_at, d.created_at,
			t.id, t.case_id, t.ticket_number, t.status, t.created_by, t.created_at
		FROM case_ticket_details d
		JOIN case_tickets t ON t.id = d.ticket_id
		WHERE d.id = $1`, detailID).Scan(
		&d.ID, &d.TicketID, &d.DetailNumber, &d.Action, &d.FromAddress, &d.ToAddress,
		&d.CcAddress, &d.BccAddress, &d.Subject, &d.Message, &d.StatusSnapshot,
		&d.EmailSent, &d.EmailSentAt, &d.CreatedAt,
		&t.ID, &t.CaseID, &t.TicketNumber, &t.Status, &t.CreatedBy, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperr.NotFound("ticket detail not found")
		}
		return nil, nil, fmt.Errorf("failed to get ticket detail: %w", err)
	}
	return &d, &t, nil
}

// MarkDetailEmailSent records a successful dispatch on the detail row.
func (r *Repository) MarkDetailEmailSent(ctx context.Context, detailID int64) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE case_ticket_details SET email_sent = TRUE, email_sent_at = $2
		WHERE id = $1`, detailID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark detail email sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperr.NotFound("ticket detail not found")
	}
	return nil
}

// ListByCase returns a case's tickets with their first detail, newest first.
func (r *Repository) ListByCase(ctx context.Context, caseID string) ([]Ticket, map[int64]TicketDetail, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, case_id, ticket_number, status, created_by, created_at
		FROM case_tickets WHERE case_id = $1 ORDER BY ticket_number DESC`, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		if err := rows.Scan(&t.ID, &t.CaseID, &t.TicketNumber, &t.Status, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	details := make(map[int64]TicketDetail)
	detailRows, err := r.pool.Query(ctx, `
		SELECT d.id, d.ticket_id, d.detail_number, d.action, d.from_address, d.to_address,
			d.cc_address, d.bcc_address, d.subject, d.message, d.status_snapshot,
			d.email_sent, d.email_sent_at, d.created_at
		FROM case_ticket_details d
		JOIN case_tickets t ON t.id = d.ticket_id
		WHERE t.case_id = $1 AND d.detail_number = 1`, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list ticket details: %w", err)
	}
	defer detailRows.Close()

	for detailRows.Next() {
		var d TicketDetail
		if err := detailRows.Scan(
			&d.ID, &d.TicketID, &d.DetailNumber, &d.Action, &d.FromAddress, &d.ToAddress,
			&d.CcAddress, &d.BccAddress, &d.Subject, &d.Message, &d.StatusSnapshot,
			&d.EmailSent, &d.EmailSentAt, &d.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("failed to scan ticket detail: %w", err)
		}
		details[d.TicketID] = d
	}
	return tickets, details, detailRows.Err()
}

// FetchCaseSnapshot loads the denormalized row behind token resolution.
// Missing related records degrade to empty fields rather than failing, so a
// sparsely linked case still resolves the tokens it can.
func (r *Repository) FetchCaseSnapshot(ctx context.Context, tx pgx.Tx, caseID string) (*token.Snapshot, error) {
	var s token.Snapshot
	err := r.q(tx).QueryRow(ctx, `
		SELECT c.case_id, c.order_number, c.contact_email, c.instructions, c.rush,
			c.patient_first_name, c.patient_last_name, c.case_id,
			COALESCE(u.first_name, ''), COALESCE(u.last_name, ''), COALESCE(u.login, ''),
			COALESCE(u.email, ''), COALESCE(u.phone, ''), COALESCE(u.fax, ''),
			COALESCE(cu.name, ''), COALESCE(cu.account_number, ''),
			COALESCE(cu.billing_contact, ''), COALESCE(cu.billing_email, ''), COALESCE(cu.billing_phone, ''),
			COALESCE(cu.address1, ''), COALESCE(cu.address2, ''),
			COALESCE(cu.city, ''), COALESCE(cu.state, ''), COALESCE(cu.zip, ''),
			COALESCE(st.name, ''), COALESCE(st.address1, ''), COALESCE(st.address2, ''),
			COALESCE(st.city, ''), COALESCE(st.state, ''), COALESCE(st.zip, ''),
			c.status_id, COALESCE(cs.name, ''), COALESCE(cs.description, ''), COALESCE(csg.name, ''),
			COALESCE(l.name, ''), COALESCE(l.contact_name, ''), COALESCE(l.phone, ''), COALESCE(l.email, ''),
			COALESCE(cu.store_email, ''), COALESCE(ca.name, ''),
			c.received_date, c.required_date, c.estimated_return_date, c.ship_date
		FROM cases c
		LEFT JOIN users u ON u.id = c.user_id
		LEFT JOIN customers cu ON cu.id = c.customer_id
		LEFT JOIN customer_ship_tos st ON st.id = c.ship_to_id
		LEFT JOIN case_statuses cs ON cs.id = c.status_id
		LEFT JOIN case_status_groups csg ON csg.id = cs.group_id
		LEFT JOIN labs l ON l.id = c.lab_id
		LEFT JOIN carriers ca ON ca.id = c.carrier_id
		WHERE c.case_id = $1`, caseID).Scan(
		&s.CaseID, &s.OrderNumber, &s.ContactEmail, &s.Instructions, &s.Rush,
		&s.PatientFirstName, &s.PatientLastName, &s.PatientNumber,
		&s.DoctorFirstName, &s.DoctorLastName, &s.DoctorLogin,
		&s.DoctorEmail, &s.DoctorPhone, &s.DoctorFax,
		&s.CustomerName, &s.CustomerAccount,
		&s.BillingContact, &s.BillingEmail, &s.BillingPhone,
		&s.BillingAddress1, &s.BillingAddress2,
		&s.BillingCity, &s.BillingState, &s.BillingZip,
		&s.ShipToName, &s.ShipToAddress1, &s.ShipToAddress2,
		&s.ShipToCity, &s.ShipToState, &s.ShipToZip,
		&s.StatusID, &s.StatusName, &s.StatusDescription, &s.StatusGroup,
		&s.LabName, &s.LabContact, &s.LabPhone, &s.LabEmail,
		&s.StoreEmail, &s.CarrierName,
		&s.ReceivedDate, &s.RequiredDate, &s.ReturnDate, &s.ShipDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("case not found")
		}
		return nil, fmt.Errorf("failed to fetch case snapshot: %w", err)
	}
	return &s, nil
}
