package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"warranty-reminder/internal/assistant"
	"warranty-reminder/internal/clock"
	"warranty-reminder/internal/errs"
	"warranty-reminder/internal/ledger"
	"warranty-reminder/internal/models"
	"warranty-reminder/internal/services"
	"warranty-reminder/internal/warranty"
)

// Store is the persistence the handlers need
type Store interface {
	GetProductsByOwner(ctx context.Context, ownerID string) ([]models.Product, error)
	GetProduct(ctx context.Context, ownerID, productID string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, ownerID, productID string) error
	GetSettings(ctx context.Context, ownerID string) (*models.ReminderSettings, error)
	SaveSettings(ctx context.Context, settings *models.ReminderSettings) error
	ListNotifications(ctx context.Context, productID string, limit int) ([]models.Notification, error)
}

// Reminders performs reminder passes and one-off test reminders
type Reminders interface {
	Run(ctx context.Context, scope services.Scope) (*services.RunSummary, error)
	SendTest(ctx context.Context, product *models.Product, settings *models.ReminderSettings) error
}

// maxImportProducts bounds a single bulk import request
const maxImportProducts = 500

// Handler holds service dependencies
type Handler struct {
	lifetime   context.Context
	store      Store
	dispatches ledger.Ledger
	reminders  Reminders
	calc       *warranty.Calculator
	assistant  *assistant.Assistant
	clock      clock.Clock
	runTimeout time.Duration
}

// NewHandler creates a new API handler. Manual runs derive their context
// from lifetime, so cancelling it on shutdown stops them.
func NewHandler(
	lifetime context.Context,
	store Store,
	dispatches ledger.Ledger,
	reminders Reminders,
	calc *warranty.Calculator,
	support *assistant.Assistant,
	clk clock.Clock,
	runTimeout time.Duration,
) *Handler {
	return &Handler{
		lifetime:   lifetime,
		store:      store,
		dispatches: dispatches,
		reminders:  reminders,
		calc:       calc,
		assistant:  support,
		clock:      clk,
		runTimeout: runTimeout,
	}
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/health", handler.Health)

	api := r.Group("/api/v1")
	{
		// Products
		api.POST("/owners/:ownerId/products", handler.CreateProduct)
		api.POST("/owners/:ownerId/products/import", handler.ImportProducts)
		api.GET("/owners/:ownerId/products", handler.ListProducts)
		api.GET("/owners/:ownerId/products/:productId", handler.GetProduct)
		api.PUT("/owners/:ownerId/products/:productId", handler.UpdateProduct)
		api.DELETE("/owners/:ownerId/products/:productId", handler.DeleteProduct)
		api.POST("/owners/:ownerId/products/:productId/test-reminder", handler.TestReminder)

		// Reminder settings
		api.GET("/owners/:ownerId/settings", handler.GetSettings)
		api.PUT("/owners/:ownerId/settings", handler.UpdateSettings)

		// Dashboard statistics
		api.GET("/owners/:ownerId/dashboard", handler.GetDashboard)

		// History
		api.GET("/products/:productId/dispatches", handler.ListDispatches)
		api.GET("/notifications", handler.ListNotifications)

		// Reminder runs
		api.POST("/runs", handler.TriggerRun)

		// Support assistant
		api.POST("/assistant", handler.Ask)
	}
}

type createProductRequest struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name" binding:"required"`
	Category       string `json:"category"`
	Model          string `json:"model"`
	SerialNumber   string `json:"serial_number"`
	PurchaseDate   string `json:"purchase_date" binding:"required"`
	WarrantyMonths int    `json:"warranty_months" binding:"required"`
}

type importRequest struct {
	Products []createProductRequest `json:"products" binding:"required"`
}

type importFailure struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id,omitempty"`
	Error     string `json:"error"`
}

type productResponse struct {
	models.Product
	Status        warranty.Kind `json:"status,omitempty"`
	DaysRemaining int           `json:"days_remaining"`
	ExpiryDate    string        `json:"expiry_date,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type settingsRequest struct {
	Email        string `json:"email" binding:"required"`
	PhoneNumber  string `json:"phone_number"`
	ReminderDays []int  `json:"reminder_days"`
}

type runRequest struct {
	OwnerIDs []string `json:"owner_ids"`
}

type askRequest struct {
	Message string `json:"message" binding:"required"`
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateProduct registers a product for an owner
func (h *Handler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.productFromRequest(c.Param("ownerId"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	if product.ProductID == "" {
		product.ProductID = uuid.NewString()
	}

	if err := h.store.CreateProduct(c.Request.Context(), product); err != nil {
		writeError(c, err)
		return
	}

	window, err := h.window(c.Request.Context(), product.OwnerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.describe(*product, window))
}

// UpdateProduct replaces a product's registration details. The expiry is
// derived, so it follows the new purchase date and warranty term.
func (h *Handler) UpdateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.ProductID = c.Param("productId")
	product, err := h.productFromRequest(c.Param("ownerId"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.store.UpdateProduct(c.Request.Context(), product); err != nil {
		writeError(c, err)
		return
	}

	updated, err := h.store.GetProduct(c.Request.Context(), product.OwnerID, product.ProductID)
	if err != nil {
		writeError(c, err)
		return
	}
	window, err := h.window(c.Request.Context(), product.OwnerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.describe(*updated, window))
}

// ImportProducts registers many products at once. Each entry is validated
// and stored on its own; failures are reported per index.
func (h *Handler) ImportProducts(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Products) > maxImportProducts {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many products in one import"})
		return
	}

	ownerID := c.Param("ownerId")
	imported := make([]string, 0, len(req.Products))
	failed := make([]importFailure, 0)
	for i, item := range req.Products {
		if strings.TrimSpace(item.Name) == "" || item.PurchaseDate == "" {
			failed = append(failed, importFailure{Index: i, ProductID: item.ProductID, Error: "name and purchase_date are required"})
			continue
		}

		product, err := h.productFromRequest(ownerID, item)
		if err == nil {
			if product.ProductID == "" {
				product.ProductID = uuid.NewString()
			}
			err = h.store.CreateProduct(c.Request.Context(), product)
		}
		if errs.Is(err, errs.ErrStoreUnavailable) {
			writeError(c, err)
			return
		}
		if err != nil {
			failed = append(failed, importFailure{Index: i, ProductID: item.ProductID, Error: err.Error()})
			continue
		}
		imported = append(imported, product.ProductID)
	}

	c.JSON(http.StatusOK, gin.H{
		"total":       len(req.Products),
		"imported":    len(imported),
		"product_ids": imported,
		"failed":      failed,
	})
}

// ListProducts lists an owner's products with their current warranty status
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.store.GetProductsByOwner(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		writeError(c, err)
		return
	}

	window, err := h.window(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, h.describe(p, window))
	}
	c.JSON(http.StatusOK, resp)
}

// GetProduct retrieves a single product
func (h *Handler) GetProduct(c *gin.Context) {
	product, err := h.store.GetProduct(c.Request.Context(), c.Param("ownerId"), c.Param("productId"))
	if err != nil {
		writeError(c, err)
		return
	}
	window, err := h.window(c.Request.Context(), product.OwnerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.describe(*product, window))
}

// DeleteProduct removes a product
func (h *Handler) DeleteProduct(c *gin.Context) {
	if err := h.store.DeleteProduct(c.Request.Context(), c.Param("ownerId"), c.Param("productId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product deleted successfully"})
}

// TestReminder sends the reminder a product would currently receive to the
// owner's configured channels without recording it as dispatched.
func (h *Handler) TestReminder(c *gin.Context) {
	ctx := c.Request.Context()
	product, err := h.store.GetProduct(ctx, c.Param("ownerId"), c.Param("productId"))
	if err != nil {
		writeError(c, err)
		return
	}
	settings, err := h.store.GetSettings(ctx, product.OwnerID)
	if err != nil {
		writeError(c, err)
		return
	}
	if settings == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Reminder settings not configured"})
		return
	}

	if err := h.reminders.SendTest(ctx, product, settings); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Test reminder sent successfully"})
}

// GetSettings retrieves an owner's reminder settings
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := h.store.GetSettings(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reminder settings not found"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings replaces an owner's reminder settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := models.ReminderSettings{
		OwnerID:      c.Param("ownerId"),
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		ReminderDays: req.ReminderDays,
	}
	if err := warranty.NormalizeSettings(&settings); err != nil {
		writeError(c, err)
		return
	}

	if err := h.store.SaveSettings(c.Request.Context(), &settings); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetDashboard summarizes an owner's warranties
func (h *Handler) GetDashboard(c *gin.Context) {
	products, err := h.store.GetProductsByOwner(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		writeError(c, err)
		return
	}

	window, err := h.window(c.Request.Context(), c.Param("ownerId"))
	if err != nil {
		writeError(c, err)
		return
	}

	now := h.clock.Now()
	var active, expiringSoon, expired, invalid int
	expiring := make([]productResponse, 0)
	for _, p := range products {
		status, err := h.calc.Evaluate(&p, now, window)
		if err != nil {
			invalid++
			continue
		}
		switch status.Kind {
		case warranty.Active:
			active++
		case warranty.ExpiringSoon:
			expiringSoon++
			expiring = append(expiring, h.describe(p, window))
		case warranty.Expired:
			expired++
		}
	}

	sort.SliceStable(expiring, func(i, j int) bool {
		return expiring[i].DaysRemaining < expiring[j].DaysRemaining
	})
	if len(expiring) > 10 {
		expiring = expiring[:10]
	}

	c.JSON(http.StatusOK, gin.H{
		"total":         len(products),
		"active":        active,
		"expiring_soon": expiringSoon,
		"expired":       expired,
		"invalid":       invalid,
		"expiring":      expiring,
	})
}

// ListDispatches lists the reminders recorded as sent for a product
func (h *Handler) ListDispatches(c *gin.Context) {
	records, err := h.dispatches.List(c.Request.Context(), c.Param("productId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if records == nil {
		records = []models.DispatchRecord{}
	}
	c.JSON(http.StatusOK, records)
}

// ListNotifications retrieves notification history
func (h *Handler) ListNotifications(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	notifications, err := h.store.ListNotifications(c.Request.Context(), c.Query("product_id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	c.JSON(http.StatusOK, notifications)
}

// TriggerRun performs a reminder pass immediately. The run follows the
// server's lifetime rather than the request, so a disconnecting client does
// not abort it but shutdown does.
func (h *Handler) TriggerRun(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx, cancel := context.WithTimeout(h.lifetime, h.runTimeout)
	defer cancel()

	summary, err := h.reminders.Run(ctx, services.Scope{OwnerIDs: req.OwnerIDs})
	switch {
	case errs.Is(err, services.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "summary": summary})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

// Ask answers a support question
func (h *Handler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.assistant.Reply(req.Message))
}

func (h *Handler) productFromRequest(ownerID string, req createProductRequest) (*models.Product, error) {
	purchase, err := time.Parse(warranty.DateLayout, req.PurchaseDate)
	if err != nil {
		return nil, errs.InvalidProduct("purchase_date must be YYYY-MM-DD")
	}

	product := &models.Product{
		ProductID:      strings.TrimSpace(req.ProductID),
		OwnerID:        ownerID,
		Name:           strings.TrimSpace(req.Name),
		Category:       strings.TrimSpace(req.Category),
		Model:          strings.TrimSpace(req.Model),
		SerialNumber:   strings.TrimSpace(req.SerialNumber),
		PurchaseDate:   purchase,
		WarrantyMonths: req.WarrantyMonths,
	}
	if err := h.calc.Validate(product, h.clock.Now()); err != nil {
		return nil, err
	}
	return product, nil
}

// window is the owner's expiring-soon window: the largest configured
// reminder day, or the default when the owner has no settings.
func (h *Handler) window(ctx context.Context, ownerID string) (int, error) {
	settings, err := h.store.GetSettings(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if settings == nil {
		return h.calc.DefaultWindow, nil
	}
	return settings.MaxReminderDay(), nil
}

func (h *Handler) describe(p models.Product, window int) productResponse {
	resp := productResponse{Product: p}
	status, err := h.calc.Evaluate(&p, h.clock.Now(), window)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Status = status.Kind
	resp.DaysRemaining = status.DaysRemaining
	resp.ExpiryDate = status.Expiry.Format(warranty.DateLayout)
	return resp
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var transportErr *errs.TransportError
	switch {
	case errs.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	case errs.Is(err, errs.ErrConflict):
		status = http.StatusConflict
	case errs.Is(err, errs.ErrInvalidProduct), errs.Is(err, errs.ErrInvalidSettings):
		status = http.StatusBadRequest
	case errs.Is(err, errs.ErrStoreUnavailable), errs.Is(err, errs.ErrChannelDisabled):
		status = http.StatusServiceUnavailable
	case errs.As(err, &transportErr):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
