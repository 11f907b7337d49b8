package transport

import "time"

// CreateTicketRequest is the request body for composing a ticket manually.
type CreateTicketRequest struct {
	TemplateID int    `json:"templateId,omitempty" validate:"min=0"`
	From       string `json:"from,omitempty" validate:"max=500"`
	To         string `json:"to,omitempty" validate:"max=500"`
	Cc         string `json:"cc,omitempty" validate:"max=500"`
	Bcc        string `json:"bcc,omitempty" validate:"max=500"`
	Subject    string `json:"subject,omitempty" validate:"max=500"`
	Message    string `json:"message,omitempty" validate:"max=8000"`

	// Overrides replace subject/message after token substitution. Absent
	// and present-but-empty are distinct: an empty string clears the field.
	OverrideSubject *string `json:"overrideSubject,omitempty" validate:"omitempty,max=500"`
	OverrideMessage *string `json:"overrideMessage,omitempty" validate:"omitempty,max=8000"`

	Status     string `json:"status,omitempty" validate:"max=50"`
	AssigneeID int64  `json:"assigneeId,omitempty" validate:"min=0"`
	SendEmail  bool   `json:"sendEmail"`
}

// CreateTicketResponse reports a composed ticket.
type CreateTicketResponse struct {
	TicketID      int64    `json:"ticketId"`
	DetailID      int64    `json:"detailId"`
	TicketNumber  int      `json:"ticketNumber"`
	DisplayNumber string   `json:"displayNumber"`
	Diagnostics   []string `json:"diagnostics,omitempty"`
}

// TicketResponse is one ticket with its opening detail.
type TicketResponse struct {
	ID           int64      `json:"id"`
	CaseID       string     `json:"caseId"`
	TicketNumber int        `json:"ticketNumber"`
	Status       string     `json:"status"`
	CreatedBy    int64      `json:"createdBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	FromAddress  string     `json:"fromAddress,omitempty"`
	ToAddress    string     `json:"toAddress,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	Message      string     `json:"message,omitempty"`
	EmailSent    bool       `json:"emailSent"`
	EmailSentAt  *time.Time `json:"emailSentAt,omitempty"`
}
