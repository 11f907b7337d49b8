// Package token resolves @@-prefixed placeholders in ticket text against a
// denormalized snapshot of the case and its related records.
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"labcase_backend/platform/logger"
	"labcase_backend/platform/phone"

	"github.com/jackc/pgx/v5"
)

// dateFormat is MM/DD/YYYY with zero padding.
const dateFormat = "01/02/2006"

// Snapshot is one denormalized row joining the case with its status, user,
// customer, ship-to, lab, and carrier records. String fields are never null
// at this layer; absent values arrive as "".
type Snapshot struct {
	CaseID            string
	OrderNumber       string
	ContactEmail      string
	Instructions      string
	Rush              bool
	PatientFirstName  string
	PatientLastName   string
	PatientNumber     string
	DoctorFirstName   string
	DoctorLastName    string
	DoctorLogin       string
	DoctorEmail       string
	DoctorPhone       string
	DoctorFax         string
	CustomerName      string
	CustomerAccount   string
	BillingContact    string
	BillingEmail      string
	BillingPhone      string
	BillingAddress1   string
	BillingAddress2   string
	BillingCity       string
	BillingState      string
	BillingZip        string
	ShipToName        string
	ShipToAddress1    string
	ShipToAddress2    string
	ShipToCity        string
	ShipToState       string
	ShipToZip         string
	StatusID          int
	StatusName        string
	StatusDescription string
	StatusGroup       string
	LabName           string
	LabContact        string
	LabPhone          string
	LabEmail          string
	StoreEmail        string
	CarrierName       string
	ReceivedDate      *time.Time
	RequiredDate      *time.Time
	ReturnDate        *time.Time
	ShipDate          *time.Time
}

// SnapshotStore fetches the denormalized case row. A nil tx reads from the
// pool; passing the caller's tx lets resolution see rows inserted earlier in
// the same uncommitted unit of work.
type SnapshotStore interface {
	FetchCaseSnapshot(ctx context.Context, tx pgx.Tx, caseID string) (*Snapshot, error)
}

// Resolver substitutes ticket text tokens from case data.
type Resolver struct {
	store SnapshotStore
	log   *logger.Logger
}

// NewResolver creates a token resolver backed by the given snapshot store.
func NewResolver(store SnapshotStore, log *logger.Logger) *Resolver {
	return &Resolver{store: store, log: log}
}

// Resolve replaces every known token in text with its case-derived value and
// returns the result plus non-fatal diagnostics. Resolution never fails: on
// any lookup error the input text is returned unchanged with a diagnostic, so
// a template problem can never abort the caller's unit of work.
func (r *Resolver) Resolve(ctx context.Context, tx pgx.Tx, text, caseID, ticketNumberDisplay string) (string, []string) {
	if text == "" || !strings.Contains(text, "@@") {
		return text, nil
	}

	snap, err := r.store.FetchCaseSnapshot(ctx, tx, caseID)
	if err != nil {
		r.log.Warn("token resolution skipped", "case_id", caseID, "error", err)
		return text, []string{fmt.Sprintf("token resolution skipped for case %s: %v", caseID, err)}
	}

	return replacer(snap, ticketNumberDisplay).Replace(text), nil
}

// replacer builds the token mapping table. Token names are chosen so no name
// is a prefix of another, which keeps single-pass replacement order-independent.
func replacer(s *Snapshot, ticketNumberDisplay string) *strings.Replacer {
	rush := ""
	if s.Rush {
		rush = "RUSH"
	}

	return strings.NewReplacer(
		"@@PATIENT_NAME", joinName(s.PatientFirstName, s.PatientLastName),
		"@@PATIENT_FIRST", s.PatientFirstName,
		"@@PATIENT_LAST", s.PatientLastName,
		"@@PATIENT_NUMBER", s.PatientNumber,
		"@@DOCTOR_NAME", joinName(s.DoctorFirstName, s.DoctorLastName),
		"@@DOCTOR_FIRST", s.DoctorFirstName,
		"@@DOCTOR_LAST", s.DoctorLastName,
		"@@DOCTOR_LOGIN", s.DoctorLogin,
		"@@DOCTOR_EMAIL", s.DoctorEmail,
		"@@DOCTOR_PHONE", phone.FormatDisplay(s.DoctorPhone),
		"@@DOCTOR_FAX", phone.FormatDisplay(s.DoctorFax),
		"@@CUSTOMER_NAME", s.CustomerName,
		"@@CUSTOMER_ACCOUNT", s.CustomerAccount,
		"@@BILLING_CONTACT", s.BillingContact,
		"@@BILLING_EMAIL", s.BillingEmail,
		"@@BILLING_PHONE", phone.FormatDisplay(s.BillingPhone),
		"@@BILLING_ADDRESS", formatAddress(s.CustomerName, s.BillingAddress1, s.BillingAddress2, s.BillingCity, s.BillingState, s.BillingZip),
		"@@SHIPPING_NAME", s.ShipToName,
		"@@SHIPPING_ADDRESS", formatAddress(s.ShipToName, s.ShipToAddress1, s.ShipToAddress2, s.ShipToCity, s.ShipToState, s.ShipToZip),
		"@@STATUS_NAME", s.StatusName,
		"@@STATUS_ID", fmt.Sprintf("%d", s.StatusID),
		"@@STATUS_DESCRIPTION", s.StatusDescription,
		"@@STATUS_GROUP", s.StatusGroup,
		"@@RECEIVED_DATE", formatDate(s.ReceivedDate),
		"@@REQUIRED_DATE", formatDate(s.RequiredDate),
		"@@RETURN_DATE", formatDate(s.ReturnDate),
		"@@SHIP_DATE", formatDate(s.ShipDate),
		"@@LAB_NAME", s.LabName,
		"@@LAB_CONTACT", s.LabContact,
		"@@LAB_PHONE", phone.FormatDisplay(s.LabPhone),
		"@@LAB_EMAIL", s.LabEmail,
		"@@STORE_EMAIL", s.StoreEmail,
		"@@CONTACT_EMAIL", s.ContactEmail,
		"@@ORDER_NUMBER", s.OrderNumber,
		"@@CASE_ID", s.CaseID,
		"@@TICKET_NUMBER", ticketNumberDisplay,
		"@@TODAY", time.Now().Format(dateFormat),
		"@@RUSH_FLAG", rush,
		"@@CARRIER_NAME", s.CarrierName,
		"@@INSTRUCTIONS", s.Instructions,
	)
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateFormat)
}

// formatAddress renders a mailing block: name, street lines, then
// "city, state zip". Blank components drop out without leaving separators.
func formatAddress(name, line1, line2, city, state, zip string) string {
	var lines []string
	for _, s := range []string{name, line1, line2} {
		if s != "" {
			lines = append(lines, s)
		}
	}

	last := ""
	if city != "" {
		last = city + ","
	}
	if state != "" {
		if last != "" {
			last += " "
		}
		last += state
	}
	if zip != "" {
		if last != "" {
			last += " "
		}
		last += zip
	}
	if last != "" {
		lines = append(lines, last)
	}

	return strings.Join(lines, "\n")
}
