package dto

// CreateExtraMealRequest payload for requesting a special meal. Either HolderID or the
// visitor name and company must be provided.
type CreateExtraMealRequest struct {
	HolderID        *string `json:"holder_id" validate:"omitempty,uuid"`
	VisitorName     *string `json:"visitor_name" validate:"omitempty,min=2,max=120"`
	VisitorCompany  *string `json:"visitor_company" validate:"omitempty,min=2,max=120"`
	VisitorDocument *string `json:"visitor_document" validate:"omitempty,max=32"`
	MealTypeID      string  `json:"meal_type_id" validate:"required"`
	RequestedDate   string  `json:"requested_date" validate:"required,datetime=2006-01-02"`
	RequestedTime   string  `json:"requested_time" validate:"required,hhmm"`
	Reason          string  `json:"reason" validate:"required,max=500"`
	RequesterName   string  `json:"requester_name" validate:"required,max=120"`
	IdempotencyKey  string  `json:"-"`
}

// UpdateExtraMealRequest patches a request. Nil fields are left untouched.
type UpdateExtraMealRequest struct {
	HolderID        *string `json:"holder_id" validate:"omitempty,uuid"`
	VisitorName     *string `json:"visitor_name" validate:"omitempty,min=2,max=120"`
	VisitorCompany  *string `json:"visitor_company" validate:"omitempty,min=2,max=120"`
	VisitorDocument *string `json:"visitor_document" validate:"omitempty,max=32"`
	MealTypeID      *string `json:"meal_type_id"`
	RequestedDate   *string `json:"requested_date" validate:"omitempty,datetime=2006-01-02"`
	RequestedTime   *string `json:"requested_time" validate:"omitempty,hhmm"`
	Reason          *string `json:"reason" validate:"omitempty,max=500"`
	RequesterName   *string `json:"requester_name" validate:"omitempty,max=120"`
}

// TouchesBeneficiary reports whether the patch replaces the beneficiary.
func (r UpdateExtraMealRequest) TouchesBeneficiary() bool {
	return r.HolderID != nil || r.VisitorName != nil || r.VisitorCompany != nil || r.VisitorDocument != nil
}

// ReviewExtraMealRequest carries the reviewer note. Rejections require it.
type ReviewExtraMealRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// ExtraMealQuery mirrors supported listing filters.
type ExtraMealQuery struct {
	Status   []string `form:"status"`
	DateFrom string   `form:"date_from" validate:"omitempty,datetime=2006-01-02"`
	DateTo   string   `form:"date_to" validate:"omitempty,datetime=2006-01-02"`
	Kind     string   `form:"kind" validate:"omitempty,oneof=INTERNAL EXTERNAL"`
	Page     int      `form:"page"`
	PageSize int      `form:"page_size"`
}
