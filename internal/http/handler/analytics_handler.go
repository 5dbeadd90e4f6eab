package handler

import (
	"net/http"
	"strconv"

	"github.com/straye-as/merchant-ledger/internal/domain"
	"github.com/straye-as/merchant-ledger/internal/repository"
	"github.com/straye-as/merchant-ledger/internal/service"
	"go.uber.org/zap"
)

const defaultTrendDays = 30

type AnalyticsHandler struct {
	analyticsService *service.AnalyticsService
	activityService  *service.ActivityService
	logger           *zap.Logger
}

func NewAnalyticsHandler(analyticsService *service.AnalyticsService, activityService *service.ActivityService, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analyticsService: analyticsService,
		activityService:  activityService,
		logger:           logger,
	}
}

// Summary godoc
// @Summary Dashboard summary
// @Description Today's revenue and payments, outstanding receivables, pending orders and low stock
// @Tags Analytics
// @Produce json
// @Success 200 {object} domain.AnalyticsSummaryDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /analytics/summary [get]
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.analyticsService.Summary(r.Context())
	if err != nil {
		handleServiceError(w, h.logger, err, "get analytics summary")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// RevenueTrend godoc
// @Summary Daily revenue
// @Description Invoiced revenue per UTC day, oldest first
// @Tags Analytics
// @Produce json
// @Param days query int false "Number of days (1-90)" default(30)
// @Success 200 {array} domain.RevenuePointDTO
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /analytics/revenue [get]
func (h *AnalyticsHandler) RevenueTrend(w http.ResponseWriter, r *http.Request) {
	days := defaultTrendDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "days must be a number")
			return
		}
		days = parsed
	}

	points, err := h.analyticsService.RevenueTrend(r.Context(), days)
	if err != nil {
		handleServiceError(w, h.logger, err, "get revenue trend")
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// RecentActivity godoc
// @Summary Recent activity
// @Tags Analytics
// @Produce json
// @Param limit query int false "Number of entries (max 200)" default(20)
// @Success 200 {array} domain.ActivityDTO
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /analytics/activity [get]
func (h *AnalyticsHandler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activities, err := h.analyticsService.RecentActivity(r.Context(), limit)
	if err != nil {
		handleServiceError(w, h.logger, err, "get recent activity")
		return
	}
	respondJSON(w, http.StatusOK, activities)
}

// ListActivities godoc
// @Summary Activity feed
// @Description Newest first, optionally filtered by kind and customer
// @Tags Analytics
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param pageSize query int false "Items per page (max 200)" default(20)
// @Param kind query string false "Activity kind" Enums(order_proposed, order_approved, order_rejected, payment_received, stock_added, price_changed, customer_added)
// @Param customerPhone query string false "Customer phone number"
// @Success 200 {object} domain.PaginatedResponse{data=[]domain.ActivityDTO}
// @Failure 400 {object} domain.APIError
// @Security BearerAuth
// @Security ApiKeyAuth
// @Router /activities [get]
func (h *AnalyticsHandler) ListActivities(w http.ResponseWriter, r *http.Request) {
	page, pageSize := parsePagination(r)
	filter := repository.ActivityFilter{CustomerPhone: r.URL.Query().Get("customerPhone")}

	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind := domain.ActivityKind(raw)
		switch kind {
		case domain.ActivityOrderProposed, domain.ActivityOrderApproved, domain.ActivityOrderRejected,
			domain.ActivityPaymentReceived, domain.ActivityStockAdded, domain.ActivityPriceChanged,
			domain.ActivityCustomerAdded:
			filter.Kind = &kind
		default:
			respondWithError(w, http.StatusBadRequest, "Unknown activity kind: "+raw)
			return
		}
	}

	result, err := h.activityService.List(r.Context(), page, pageSize, filter)
	if err != nil {
		handleServiceError(w, h.logger, err, "list activities")
		return
	}
	respondJSON(w, http.StatusOK, result)
}
