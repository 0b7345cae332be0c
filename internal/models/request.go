package models

import "time"

// RequestStatus captures the lifecycle states of an internship request.
type RequestStatus string

const (
	StatusDraft    RequestStatus = "DRAFT"
	StatusPending  RequestStatus = "PENDING"
	StatusAccepted RequestStatus = "ACCEPTED"
	StatusRefused  RequestStatus = "REFUSED"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusAccepted, StatusRefused:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from the status.
func (s RequestStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRefused
}

// Request is one student's internship application. Profile fields are copied
// at submission time and never live-linked to the user profile.
type Request struct {
	ID              string        `db:"id" json:"id"`
	OwnerID         string        `db:"owner_id" json:"owner_id"`
	ReferenceCode   *string       `db:"reference_code" json:"reference_code,omitempty"`
	FirstName       string        `db:"first_name" json:"first_name"`
	LastName        string        `db:"last_name" json:"last_name"`
	Email           string        `db:"email" json:"email"`
	Phone           string        `db:"phone" json:"phone"`
	Institution     string        `db:"institution" json:"institution"`
	FieldOfStudy    string        `db:"field_of_study" json:"field_of_study"`
	StudyLevel      string        `db:"study_level" json:"study_level"`
	StartDate       time.Time     `db:"start_date" json:"start_date"`
	EndDate         time.Time     `db:"end_date" json:"end_date"`
	CVPath          *string       `db:"cv_path" json:"cv_path,omitempty"`
	IDDocumentPath  *string       `db:"id_document_path" json:"id_document_path,omitempty"`
	CoverLetterPath *string       `db:"cover_letter_path" json:"cover_letter_path,omitempty"`
	Status          RequestStatus `db:"status" json:"status"`
	Notes           *string       `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	StatusChangedAt time.Time     `db:"status_changed_at" json:"status_changed_at"`
}

// FullName joins the student name fields for display and notifications.
func (r *Request) FullName() string {
	if r.FirstName == "" {
		return r.LastName
	}
	if r.LastName == "" {
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

// RequestFilter constrains listing queries.
type RequestFilter struct {
	OwnerID string
	Status  []RequestStatus
	Search  string
	Limit   int
	Offset  int
}
