package transport

import "time"

// ImportCaseRequest is the request body for importing a storefront order.
type ImportCaseRequest struct {
	OrderNumber string `json:"orderNumber" validate:"required,min=1,max=50"`
}

// ImportCaseResponse reports a completed import.
type ImportCaseResponse struct {
	CaseID        string   `json:"caseId"`
	OrderNumber   string   `json:"orderNumber"`
	ItemCount     int      `json:"itemCount"`
	TicketCreated bool     `json:"ticketCreated"`
	Diagnostics   []string `json:"diagnostics,omitempty"`
}

// UpdateStatusRequest is the request body for a status transition.
type UpdateStatusRequest struct {
	StatusID         int    `json:"statusId" validate:"required,min=1"`
	Note             string `json:"note,omitempty" validate:"max=2000"`
	NotifyTemplateID int    `json:"notifyTemplateId,omitempty" validate:"min=0"`
}

// UpdateStatusResponse reports a completed transition.
type UpdateStatusResponse struct {
	CaseID      string   `json:"caseId"`
	StatusID    int      `json:"statusId"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// ListCasesRequest is the query parameters for listing cases.
type ListCasesRequest struct {
	StatusID *int  `form:"statusId"`
	Rush     *bool `form:"rush"`
	Page     int   `form:"page"`
	PageSize int   `form:"pageSize"`
}

// CaseResponse is the response body for a case.
type CaseResponse struct {
	CaseID              string     `json:"caseId"`
	OrderNumber         string     `json:"orderNumber"`
	PatientFirstName    string     `json:"patientFirstName"`
	PatientLastName     string     `json:"patientLastName"`
	ContactEmail        string     `json:"contactEmail"`
	Instructions        string     `json:"instructions"`
	StatusID            int        `json:"statusId"`
	Rush                bool       `json:"rush"`
	NeedsReview         bool       `json:"needsReview"`
	ReceivedDate        time.Time  `json:"receivedDate"`
	RequiredDate        time.Time  `json:"requiredDate"`
	EstimatedReturnDate time.Time  `json:"estimatedReturnDate"`
	ShipDate            *time.Time `json:"shipDate,omitempty"`

	Items []CaseItemResponse `json:"items,omitempty"`
}

// CaseItemResponse is one decoded item on a case.
type CaseItemResponse struct {
	ID            int64    `json:"id"`
	ProductName   string   `json:"productName"`
	ToothLocation string   `json:"toothLocation"`
	Quantity      int      `json:"quantity"`
	Shade         string   `json:"shade"`
	Teeth         []string `json:"teeth,omitempty"`
}

// ListCasesResponse is a page of cases.
type ListCasesResponse struct {
	Cases    []CaseResponse `json:"cases"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// AttachmentResponse is one case attachment with a presigned download URL.
type AttachmentResponse struct {
	ID          int64     `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
