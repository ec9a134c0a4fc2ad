package models

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/meal-voucher-api/internal/timewindow"
)

// ExtraMealStatus captures workflow states for extra-meal requests.
type ExtraMealStatus string

const (
	ExtraMealStatusPending  ExtraMealStatus = "PENDING"
	ExtraMealStatusApproved ExtraMealStatus = "APPROVED"
	ExtraMealStatusRejected ExtraMealStatus = "REJECTED"
)

// Terminal reports whether no further review is possible.
func (s ExtraMealStatus) Terminal() bool {
	return s == ExtraMealStatusApproved || s == ExtraMealStatusRejected
}

// BeneficiaryKind discriminates who receives an extra meal.
type BeneficiaryKind string

const (
	BeneficiaryInternal BeneficiaryKind = "INTERNAL"
	BeneficiaryExternal BeneficiaryKind = "EXTERNAL"
)

// Beneficiary is either an InternalHolder or an ExternalVisitor.
type Beneficiary interface {
	Kind() BeneficiaryKind
	sealed()
}

// InternalHolder points at a registered voucher holder.
type InternalHolder struct {
	HolderID string `json:"holder_id"`
}

// Kind implements Beneficiary.
func (InternalHolder) Kind() BeneficiaryKind { return BeneficiaryInternal }
func (InternalHolder) sealed()               {}

// ExternalVisitor describes someone without a voucher.
type ExternalVisitor struct {
	Name     string  `json:"name"`
	Company  string  `json:"company"`
	Document *string `json:"document,omitempty"`
}

// Kind implements Beneficiary.
func (ExternalVisitor) Kind() BeneficiaryKind { return BeneficiaryExternal }
func (ExternalVisitor) sealed()               {}

// ExtraMealRequest asks for a special meal outside the voucher flow.
// The beneficiary is stored flat; exactly one column group is set.
type ExtraMealRequest struct {
	ID              string               `db:"id"`
	HolderID        *string              `db:"holder_id"`
	VisitorName     *string              `db:"visitor_name"`
	VisitorCompany  *string              `db:"visitor_company"`
	VisitorDocument *string              `db:"visitor_document"`
	MealTypeID      string               `db:"meal_type_id"`
	RequestedDate   time.Time            `db:"requested_date"`
	RequestedTime   timewindow.TimeOfDay `db:"requested_time"`
	Reason          string               `db:"reason"`
	RequesterName   string               `db:"requester_name"`
	Status          ExtraMealStatus      `db:"status"`
	ApprovedBy      *string              `db:"approved_by"`
	ApprovedAt      *time.Time           `db:"approved_at"`
	ApprovalNotes   *string              `db:"approval_notes"`
	Price           float64              `db:"price"`
	IdempotencyKey  *string              `db:"idempotency_key"`
	CreatedBy       string               `db:"created_by"`
	CreatedAt       time.Time            `db:"created_at"`
	UpdatedAt       time.Time            `db:"updated_at"`
}

// Beneficiary rebuilds the union from the stored columns.
func (r *ExtraMealRequest) Beneficiary() Beneficiary {
	if r.HolderID != nil {
		return InternalHolder{HolderID: *r.HolderID}
	}
	visitor := ExternalVisitor{Document: r.VisitorDocument}
	if r.VisitorName != nil {
		visitor.Name = *r.VisitorName
	}
	if r.VisitorCompany != nil {
		visitor.Company = *r.VisitorCompany
	}
	return visitor
}

// SetBeneficiary flattens b, clearing the other column group.
func (r *ExtraMealRequest) SetBeneficiary(b Beneficiary) {
	r.HolderID, r.VisitorName, r.VisitorCompany, r.VisitorDocument = nil, nil, nil, nil
	switch v := b.(type) {
	case InternalHolder:
		id := v.HolderID
		r.HolderID = &id
	case ExternalVisitor:
		name, company := v.Name, v.Company
		r.VisitorName = &name
		r.VisitorCompany = &company
		r.VisitorDocument = v.Document
	}
}

type beneficiaryJSON struct {
	Kind     BeneficiaryKind `json:"kind"`
	HolderID string          `json:"holder_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Company  string          `json:"company,omitempty"`
	Document *string         `json:"document,omitempty"`
}

// MarshalJSON renders the beneficiary as a tagged object.
func (r ExtraMealRequest) MarshalJSON() ([]byte, error) {
	b := beneficiaryJSON{}
	switch v := r.Beneficiary().(type) {
	case InternalHolder:
		b.Kind, b.HolderID = v.Kind(), v.HolderID
	case ExternalVisitor:
		b.Kind, b.Name, b.Company, b.Document = v.Kind(), v.Name, v.Company, v.Document
	}
	return json.Marshal(struct {
		ID            string          `json:"id"`
		Beneficiary   beneficiaryJSON `json:"beneficiary"`
		MealTypeID    string          `json:"meal_type_id"`
		RequestedDate string          `json:"requested_date"`
		RequestedTime string          `json:"requested_time"`
		Reason        string          `json:"reason"`
		RequesterName string          `json:"requester_name"`
		Status        ExtraMealStatus `json:"status"`
		ApprovedBy    *string         `json:"approved_by,omitempty"`
		ApprovedAt    *time.Time      `json:"approved_at,omitempty"`
		ApprovalNotes *string         `json:"approval_notes,omitempty"`
		Price         float64         `json:"price"`
		CreatedBy     string          `json:"created_by"`
		CreatedAt     time.Time       `json:"created_at"`
		UpdatedAt     time.Time       `json:"updated_at"`
	}{
		ID:            r.ID,
		Beneficiary:   b,
		MealTypeID:    r.MealTypeID,
		RequestedDate: timewindow.DateString(r.RequestedDate),
		RequestedTime: r.RequestedTime.String(),
		Reason:        r.Reason,
		RequesterName: r.RequesterName,
		Status:        r.Status,
		ApprovedBy:    r.ApprovedBy,
		ApprovedAt:    r.ApprovedAt,
		ApprovalNotes: r.ApprovalNotes,
		Price:         r.Price,
		CreatedBy:     r.CreatedBy,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	})
}

// ExtraMealFilter constrains listing queries.
type ExtraMealFilter struct {
	Status   []ExtraMealStatus
	DateFrom *time.Time
	DateTo   *time.Time
	Kind     BeneficiaryKind
	Page     int
	PageSize int
}
