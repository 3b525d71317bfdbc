package billing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/his/his/internal/platform/auth"
	"github.com/his/his/internal/upstream"
	"github.com/his/his/pkg/pagination"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/billing-records", auth.RequireRole(auth.RoleBillingClerk, auth.RoleCashier))
	g.GET("/", h.List)
	g.POST("/", h.Create)
	g.GET("/dashboard/", h.Dashboard)
	g.GET("/:id/", h.Get)
	g.PUT("/:id/", h.Update)
	g.PATCH("/:id/", h.Patch)
	g.DELETE("/:id/", h.Delete)
	g.POST("/:id/finalize/", h.Finalize)
	g.POST("/:id/add_payment/", h.AddPayment)
	g.POST("/:id/add_manual_item/", h.AddManualItem)
	g.POST("/:id/reload_pharmacy/", h.ReloadPharmacy)
	g.POST("/:id/reload_laboratory/", h.ReloadLaboratory)
}

type feeRequest struct {
	Role      string          `json:"role" validate:"required,oneof=attending specialist surgeon other"`
	Physician string          `json:"physician" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type createRequest struct {
	PatientID        string          `json:"patient_id" validate:"required,uuid"`
	AdmissionID      *string         `json:"admission_id" validate:"omitempty,uuid"`
	RoomType         *string         `json:"room_type"`
	RoomRate         decimal.Decimal `json:"room_rate"`
	RoomDays         int             `json:"room_days" validate:"gte=0"`
	MealsPerDay      int             `json:"meals_per_day" validate:"gte=0"`
	DietDays         int             `json:"diet_days" validate:"gte=0"`
	MealCost         decimal.Decimal `json:"meal_cost"`
	SuppliesFee      decimal.Decimal `json:"supplies_fee"`
	ProcedureFee     decimal.Decimal `json:"procedure_fee"`
	NursingFee       decimal.Decimal `json:"nursing_fee"`
	MiscFee          decimal.Decimal `json:"misc_fee"`
	SeniorCitizen    bool            `json:"senior_citizen"`
	PWD              bool            `json:"pwd"`
	PhilHealthMember bool            `json:"philhealth_member"`
	Coverage         decimal.Decimal `json:"coverage"`
	Discount         decimal.Decimal `json:"discount"`
	DischargeDate    *time.Time      `json:"discharge_date"`
	ProfessionalFees []feeRequest    `json:"professional_fees" validate:"dive"`
}

func (req *createRequest) toInvoice() (*Invoice, error) {
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		return nil, NewValidationError("patient_id", "invalid uuid")
	}
	inv := &Invoice{
		PatientID:        patientID,
		RoomType:         req.RoomType,
		RoomRate:         req.RoomRate,
		RoomDays:         req.RoomDays,
		MealsPerDay:      req.MealsPerDay,
		DietDays:         req.DietDays,
		MealCost:         req.MealCost,
		SuppliesFee:      req.SuppliesFee,
		ProcedureFee:     req.ProcedureFee,
		NursingFee:       req.NursingFee,
		MiscFee:          req.MiscFee,
		SeniorCitizen:    req.SeniorCitizen,
		PWD:              req.PWD,
		PhilHealthMember: req.PhilHealthMember,
		Coverage:         req.Coverage,
		Discount:         req.Discount,
		DischargeDate:    req.DischargeDate,
	}
	if req.AdmissionID != nil {
		admissionID, err := uuid.Parse(*req.AdmissionID)
		if err != nil {
			return nil, NewValidationError("admission_id", "invalid uuid")
		}
		inv.AdmissionID = &admissionID
	}
	for _, f := range req.ProfessionalFees {
		inv.Fees = append(inv.Fees, ProfessionalFee{
			Role:      f.Role,
			Physician: f.Physician,
			Amount:    f.Amount,
		})
	}
	return inv, nil
}

type createResponse struct {
	Data     *InvoiceView `json:"data"`
	Warnings []string     `json:"warnings,omitempty"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := req.toInvoice()
	if err != nil {
		return mapError(err)
	}
	warnings, err := h.svc.Create(c.Request().Context(), inv)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, createResponse{Data: View(inv), Warnings: warnings})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, View(inv))
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	var (
		items []*Invoice
		total int
		err   error
	)
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, perr := uuid.Parse(patientID)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err = h.svc.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.List(ctx, pg.Limit, pg.Offset)
	}
	if err != nil {
		return mapError(err)
	}

	views := make([]*InvoiceView, 0, len(items))
	for _, inv := range items {
		views = append(views, View(inv))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := req.toInvoice()
	if err != nil {
		return mapError(err)
	}
	inv.ID = id
	if err := h.svc.Update(c.Request().Context(), inv); err != nil {
		return mapError(err)
	}
	fresh, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, View(fresh))
}

type patchRequest struct {
	RoomType         *string          `json:"room_type"`
	RoomRate         *decimal.Decimal `json:"room_rate"`
	RoomDays         *int             `json:"room_days"`
	MealsPerDay      *int             `json:"meals_per_day"`
	DietDays         *int             `json:"diet_days"`
	MealCost         *decimal.Decimal `json:"meal_cost"`
	SuppliesFee      *decimal.Decimal `json:"supplies_fee"`
	ProcedureFee     *decimal.Decimal `json:"procedure_fee"`
	NursingFee       *decimal.Decimal `json:"nursing_fee"`
	MiscFee          *decimal.Decimal `json:"misc_fee"`
	SeniorCitizen    *bool            `json:"senior_citizen"`
	PWD              *bool            `json:"pwd"`
	PhilHealthMember *bool            `json:"philhealth_member"`
	Coverage         *decimal.Decimal `json:"coverage"`
	Discount         *decimal.Decimal `json:"discount"`
	DischargeDate    *time.Time       `json:"discharge_date"`
}

func (req *patchRequest) apply(inv *Invoice) {
	if req.RoomType != nil {
		inv.RoomType = req.RoomType
	}
	if req.RoomRate != nil {
		inv.RoomRate = *req.RoomRate
	}
	if req.RoomDays != nil {
		inv.RoomDays = *req.RoomDays
	}
	if req.MealsPerDay != nil {
		inv.MealsPerDay = *req.MealsPerDay
	}
	if req.DietDays != nil {
		inv.DietDays = *req.DietDays
	}
	if req.MealCost != nil {
		inv.MealCost = *req.MealCost
	}
	if req.SuppliesFee != nil {
		inv.SuppliesFee = *req.SuppliesFee
	}
	if req.ProcedureFee != nil {
		inv.ProcedureFee = *req.ProcedureFee
	}
	if req.NursingFee != nil {
		inv.NursingFee = *req.NursingFee
	}
	if req.MiscFee != nil {
		inv.MiscFee = *req.MiscFee
	}
	if req.SeniorCitizen != nil {
		inv.SeniorCitizen = *req.SeniorCitizen
	}
	if req.PWD != nil {
		inv.PWD = *req.PWD
	}
	if req.PhilHealthMember != nil {
		inv.PhilHealthMember = *req.PhilHealthMember
	}
	if req.Coverage != nil {
		inv.Coverage = *req.Coverage
	}
	if req.Discount != nil {
		inv.Discount = *req.Discount
	}
	if req.DischargeDate != nil {
		inv.DischargeDate = req.DischargeDate
	}
}

func (h *Handler) Patch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req patchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	inv, err := h.svc.Get(ctx, id)
	if err != nil {
		return mapError(err)
	}
	req.apply(inv)
	if err := h.svc.Update(ctx, inv); err != nil {
		return mapError(err)
	}
	fresh, err := h.svc.Get(ctx, id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, View(fresh))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := h.svc.Finalize(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, View(inv))
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" validate:"required,oneof=cash card gcash check bank_transfer"`
	AllowExcess bool            `json:"allow_excess"`
}

func (h *Handler) AddPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	clerk := auth.UserNameFromContext(ctx)
	if clerk == "" {
		clerk = auth.UserIDFromContext(ctx)
	}

	p, err := h.svc.RecordPayment(ctx, id, req.Amount, req.Method, clerk, req.AllowExcess)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

type manualItemRequest struct {
	Name      string          `json:"name" validate:"required"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (h *Handler) AddManualItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req manualItemRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	line, err := h.svc.AddManualItem(c.Request().Context(), id, req.Name, req.Quantity, req.UnitPrice)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, line)
}

func (h *Handler) ReloadPharmacy(c echo.Context) error {
	return h.reload(c, h.svc.ReloadPharmacy)
}

func (h *Handler) ReloadLaboratory(c echo.Context) error {
	return h.reload(c, h.svc.ReloadLaboratory)
}

func (h *Handler) reload(c echo.Context, fn func(context.Context, uuid.UUID) (*Invoice, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inv, err := fn(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, View(inv))
}

func (h *Handler) Dashboard(c echo.Context) error {
	pg := pagination.FromContext(c)
	dash, err := h.svc.DashboardView(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, dash)
}

// mapError translates domain errors into HTTP responses.
func mapError(err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "billing record not found")
	case errors.Is(err, ErrAlreadyFinalized):
		return echo.NewHTTPError(http.StatusConflict, ErrAlreadyFinalized.Error())
	case errors.Is(err, ErrNotFinalized):
		return echo.NewHTTPError(http.StatusConflict, ErrNotFinalized.Error())
	case errors.Is(err, ErrInvoiceHasPayments):
		return echo.NewHTTPError(http.StatusConflict, ErrInvoiceHasPayments.Error())
	case errors.Is(err, ErrNoPendingCharges):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ErrNoPendingCharges.Error())
	case errors.Is(err, ErrPaymentExceedsBalance):
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			"payment exceeds outstanding balance; set allow_excess to record an overpayment")
	case errors.Is(err, upstream.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
