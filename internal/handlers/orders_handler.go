package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/tshirt-orderflow/internal/apperr"
	"github.com/imrishuroy/tshirt-orderflow/internal/bgremove"
	"github.com/imrishuroy/tshirt-orderflow/internal/lifecycle"
	"github.com/imrishuroy/tshirt-orderflow/internal/orders"
	"github.com/imrishuroy/tshirt-orderflow/internal/validation"
)

const (
	// multipartMemory is how much of a multipart upload is held in memory;
	// the rest spills to temporary files.
	multipartMemory = 8 << 20
	maxPatchBytes   = 64 << 10

	defaultMaxUpload       = 100 << 20
	defaultMaxHelperUpload = 10 << 20
)

// OrderService is the order lifecycle. *lifecycle.Service implements it.
type OrderService interface {
	CreateOrder(ctx context.Context, in lifecycle.NewOrder, asset lifecycle.Asset) (lifecycle.OrderView, error)
	GetOrder(ctx context.Context, id string) (lifecycle.OrderView, error)
	FindOne(ctx context.Context, fs orders.FilterSet) (lifecycle.OrderView, error)
	FindMany(ctx context.Context, fs orders.FilterSet) ([]lifecycle.OrderView, error)
	UpdateOrder(ctx context.Context, id string, p orders.Patch) (lifecycle.OrderView, error)
	UpdateMany(ctx context.Context, fs orders.FilterSet, p orders.Patch) (int, error)
	DeleteOrder(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, fs orders.FilterSet) (int, error)
}

// BackgroundRemover strips the background of an image. *bgremove.Client
// implements it.
type BackgroundRemover interface {
	Remove(ctx context.Context, name, contentType string, r io.Reader) (bgremove.Result, error)
}

// HandlerConfig groups dependencies for the API routes.
type HandlerConfig struct {
	Orders  OrderService
	Remover BackgroundRemover
	// Idempotency enables Idempotency-Key replay on POST /order when set.
	Idempotency IdempotencyStore
	Logger      *slog.Logger

	MaxUploadBytes       int64
	MaxHelperUploadBytes int64

	// GlobalLimiter applies to every route, UploadLimiter to the upload
	// routes only. Nil disables the limit.
	GlobalLimiter *RateLimiter
	UploadLimiter *RateLimiter
}

type ordersHandler struct {
	svc       OrderService
	remover   BackgroundRemover
	idem      IdempotencyStore
	validate  *validatorv10.Validate
	logger    *slog.Logger
	maxUpload int64
	maxHelper int64
}

// RegisterRoutes mounts the order and helper routes on r under base.
func RegisterRoutes(r gin.IRouter, base string, cfg HandlerConfig) {
	h := &ordersHandler{
		svc:       cfg.Orders,
		remover:   cfg.Remover,
		idem:      cfg.Idempotency,
		validate:  validation.New(),
		logger:    cfg.Logger,
		maxUpload: cfg.MaxUploadBytes,
		maxHelper: cfg.MaxHelperUploadBytes,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUpload
	}
	if h.maxHelper <= 0 {
		h.maxHelper = defaultMaxHelperUpload
	}

	g := r.Group(base)
	if cfg.GlobalLimiter != nil {
		g.Use(cfg.GlobalLimiter.Middleware())
	}
	uploads := g.Group("")
	if cfg.UploadLimiter != nil {
		uploads.Use(cfg.UploadLimiter.Middleware())
	}

	uploads.POST("/order", h.create)
	uploads.POST("/helpers/background-remover", h.removeBackground)
	g.GET("/order/search/one", h.findOne)
	g.GET("/order/search/all", h.findMany)
	g.PUT("/order/search/update", h.updateMany)
	g.DELETE("/order/search/delete", h.deleteMany)
	g.GET("/order/:id", h.get)
	g.PUT("/order/:id", h.update)
	g.DELETE("/order/:id", h.delete)
}

func (h *ordersHandler) create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reject(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		fail(c, h.logger, apperr.Validation("expected a multipart form"))
		return
	}
	// The Lambda adapter calls ServeHTTP directly, so net/http never removes
	// spilled parts for us.
	defer c.Request.MultipartForm.RemoveAll()

	var req validation.CreateOrderRequest
	if err := validation.BindForm(c, &req, h.validate); err != nil {
		fail(c, h.logger, err)
		return
	}
	fh := formFile(c.Request.MultipartForm, "file", "image")
	if fh == nil {
		fail(c, h.logger, apperr.Validation("file is required"))
		return
	}

	key := c.GetHeader(IdempotencyKeyHeader)
	if key != "" && h.idem != nil {
		if !h.claim(c, key) {
			return
		}
	}

	ctx := c.Request.Context()
	view, err := h.svc.CreateOrder(ctx, lifecycle.NewOrder{
		CheckoutID: req.CheckoutID,
		OrderID:    req.OrderID,
		UserID:     req.UserID,
		UserEmail:  req.UserEmail,
		OriginID:   req.OriginID,
		Quantity:   req.Quantity,
		Size:       req.Size,
		Color:      req.Color,
	}, lifecycle.Asset{
		Name:      fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Size:      fh.Size,
		Open:      func() (io.ReadCloser, error) { return fh.Open() },
	})

	body := Response{Success: true, Message: "order created", Data: view}
	if key != "" && h.idem != nil {
		// the outcome outlives a cancelled request
		settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		h.settle(settleCtx, key, view.ID, http.StatusCreated, body, err)
	}
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Header("Location", c.FullPath()+"/"+view.ID)
	c.JSON(http.StatusCreated, body)
}

// formFile returns the first file uploaded under any of names.
func formFile(form *multipart.Form, names ...string) *multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, n := range names {
		if fhs := form.File[n]; len(fhs) > 0 {
			return fhs[0]
		}
	}
	return nil
}

func (h *ordersHandler) get(c *gin.Context) {
	view, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "order fetched", view)
}

func (h *ordersHandler) update(c *gin.Context) {
	p, err := h.readPatch(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	view, err := h.svc.UpdateOrder(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "order updated", view)
}

func (h *ordersHandler) delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.DeleteOrder(c.Request.Context(), id); err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "order deleted", gin.H{"id": id})
}

func (h *ordersHandler) findOne(c *gin.Context) {
	fs, err := filters(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	view, err := h.svc.FindOne(c.Request.Context(), fs)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "order fetched", view)
}

func (h *ordersHandler) findMany(c *gin.Context) {
	fs, err := filters(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	views, err := h.svc.FindMany(c.Request.Context(), fs)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "orders fetched", views)
}

func (h *ordersHandler) updateMany(c *gin.Context) {
	fs, err := filters(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if fs.Len() == 0 {
		fail(c, h.logger, apperr.Validation(orders.ErrEmptyFilter.Error()))
		return
	}
	p, err := h.readPatch(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	n, err := h.svc.UpdateMany(c.Request.Context(), fs, p)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "orders updated", gin.H{"updated": n})
}

func (h *ordersHandler) deleteMany(c *gin.Context) {
	fs, err := filters(c)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	n, err := h.svc.DeleteMany(c.Request.Context(), fs)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, "orders deleted", gin.H{"deleted": n})
}

// filters parses the query string into a filter set.
func filters(c *gin.Context) (orders.FilterSet, error) {
	fs, err := orders.ParseFilters(c.Request.URL.Query())
	if err != nil {
		return orders.FilterSet{}, apperr.Validation(err.Error())
	}
	return fs, nil
}

// readPatch decodes the JSON update body.
func (h *ordersHandler) readPatch(c *gin.Context) (orders.Patch, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPatchBytes))
	if err != nil {
		return orders.Patch{}, apperr.Validation("update body too large")
	}
	if len(body) == 0 {
		return orders.Patch{}, apperr.Validation(orders.ErrEmptyPatch.Error())
	}
	p, err := orders.ParsePatch(body)
	if err != nil {
		return orders.Patch{}, apperr.Validation(err.Error())
	}
	return p, nil
}
