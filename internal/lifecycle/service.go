// Package lifecycle orchestrates order creation, lookup, update and deletion
// across the record store and the object store.
package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/imrishuroy/tshirt-orderflow/internal/apperr"
	"github.com/imrishuroy/tshirt-orderflow/internal/objectstore"
	"github.com/imrishuroy/tshirt-orderflow/internal/orders"
	"github.com/imrishuroy/tshirt-orderflow/internal/thumbnail"
)

// Business metric names.
const (
	MetricOrdersCreated     = "OrdersCreated"
	MetricOrdersDeleted     = "OrdersDeleted"
	MetricThumbnailsSkipped = "ThumbnailsSkipped"
)

// RecordStore persists order records. orders.DynamoStore and orders.BlobStore
// implement it.
type RecordStore interface {
	Put(ctx context.Context, rec orders.Record) error
	Get(ctx context.Context, id string) (*orders.Record, error)
	Delete(ctx context.Context, id string) error
	Patch(ctx context.Context, id string, p orders.Patch) error
	Scan(ctx context.Context, fs orders.FilterSet) ([]orders.Record, error)
}

// ObjectStore stores order assets.
type ObjectStore interface {
	Upload(ctx context.Context, prefix, name, contentType string, body io.Reader, size int64) (objectstore.Object, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Thumbnailer derives a preview image; ok is false when none was produced.
type Thumbnailer interface {
	Derive(r io.Reader, mediaType string) (thumb []byte, ok bool)
}

// Metrics records business counters.
type Metrics interface {
	Count(ctx context.Context, metric string, value float64)
}

// NewOrder is the caller-supplied metadata of an order.
type NewOrder struct {
	CheckoutID string
	OrderID    string
	UserID     string
	UserEmail  string
	OriginID   string
	Quantity   int
	Size       string
	Color      string
}

// Asset is an uploaded file. Open may be called more than once; each call
// returns a fresh reader positioned at the start.
type Asset struct {
	Name      string
	MediaType string
	Size      int64
	Open      func() (io.ReadCloser, error)
}

// Config groups the dependencies of a Service.
type Config struct {
	Records     RecordStore
	Objects     ObjectStore
	Thumbnails  Thumbnailer
	Compensator Compensator
	Metrics     Metrics
	Logger      *slog.Logger
	// URLTTL is the lifetime of URLs signed at read time; zero uses the
	// object store default.
	URLTTL time.Duration
}

// Service implements the order lifecycle.
type Service struct {
	records     RecordStore
	objects     ObjectStore
	thumbs      Thumbnailer
	compensator Compensator
	metrics     Metrics
	logger      *slog.Logger
	urlTTL      time.Duration
	nowFunc     func() time.Time
	newID       func() string
}

// NewService returns a Service. Records and Objects are required.
func NewService(cfg Config) *Service {
	s := &Service{
		records:     cfg.Records,
		objects:     cfg.Objects,
		thumbs:      cfg.Thumbnails,
		compensator: cfg.Compensator,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		urlTTL:      cfg.URLTTL,
		nowFunc:     time.Now,
		newID:       uuid.NewString,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.thumbs == nil {
		s.thumbs = thumbnail.New(s.logger)
	}
	if s.compensator == nil {
		s.compensator = NopCompensator{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	return s
}

// CreateOrder mints a record, uploads the asset and its thumbnail under the
// order prefix and patches the record with their locations. A failure after
// the mint leaves the pending record in place and reports it to the
// compensator; nothing is rolled back.
func (s *Service) CreateOrder(ctx context.Context, in NewOrder, asset Asset) (OrderView, error) {
	if asset.Open == nil {
		return OrderView{}, apperr.Validation("file is required")
	}

	now := s.nowFunc().UTC()
	rec := orders.Record{
		ID:         s.newID(),
		CheckoutID: in.CheckoutID,
		OrderID:    in.OrderID,
		UserID:     in.UserID,
		UserEmail:  in.UserEmail,
		OriginID:   in.OriginID,
		Quantity:   in.Quantity,
		TShirt:     orders.TShirt{Size: in.Size, Color: in.Color},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.records.Put(ctx, rec); err != nil {
		s.logger.Error("mint order record failed", "checkout_id", in.CheckoutID, "err", err)
		return OrderView{}, apperr.Storage("mint order record", err)
	}
	prefix := orders.Prefix(rec.ID)

	patch, err := s.storeAssets(ctx, prefix, asset)
	if err == nil {
		err = s.records.Patch(ctx, rec.ID, patch)
	}
	if err != nil {
		s.logger.Error("create order aborted", "id", rec.ID, "prefix", prefix, "err", err)
		s.compensator.CreateAborted(ctx, rec.ID, prefix, err)
		return OrderView{}, apperr.Storage("create order", err)
	}

	patch.Apply(&rec, s.nowFunc().UTC())
	s.metrics.Count(ctx, MetricOrdersCreated, 1)
	s.logger.Info("order created", "id", rec.ID, "checkout_id", rec.CheckoutID, "thumbnail", rec.TShirt.Thumbnail != nil)
	return s.view(ctx, rec), nil
}

// storeAssets uploads the asset and, for images, a derived thumbnail. It
// returns the patch recording their locations.
func (s *Service) storeAssets(ctx context.Context, prefix string, asset Asset) (orders.Patch, error) {
	obj, err := s.upload(ctx, prefix, asset)
	if err != nil {
		return orders.Patch{}, err
	}
	patch := orders.Patch{File: &obj.Key, FileURL: &obj.URL}

	if !thumbnail.IsImage(asset.MediaType) {
		return patch, nil
	}
	thumb, ok := s.derive(asset)
	if !ok {
		s.metrics.Count(ctx, MetricThumbnailsSkipped, 1)
		return patch, nil
	}
	tObj, err := s.objects.Upload(ctx, prefix, thumbnail.Name(asset.Name), "image/png", bytes.NewReader(thumb), int64(len(thumb)))
	if err != nil {
		return orders.Patch{}, fmt.Errorf("upload thumbnail: %w", err)
	}
	patch.Thumbnail = &orders.Thumbnail{Path: tObj.Key, URL: tObj.URL}
	return patch, nil
}

func (s *Service) upload(ctx context.Context, prefix string, asset Asset) (objectstore.Object, error) {
	f, err := asset.Open()
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("open asset: %w", err)
	}
	defer f.Close()
	obj, err := s.objects.Upload(ctx, prefix, asset.Name, asset.MediaType, f, asset.Size)
	if err != nil {
		return objectstore.Object{}, fmt.Errorf("upload asset: %w", err)
	}
	return obj, nil
}

func (s *Service) derive(asset Asset) ([]byte, bool) {
	f, err := asset.Open()
	if err != nil {
		s.logger.Warn("reopen asset for thumbnail failed", "name", asset.Name, "err", err)
		return nil, false
	}
	defer f.Close()
	return s.thumbs.Derive(f, asset.MediaType)
}

// GetOrder returns the order with id. A record store failure is logged and
// reported as not found.
func (s *Service) GetOrder(ctx context.Context, id string) (OrderView, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		s.logger.Warn("get order failed, treating as absent", "id", id, "err", err)
		rec = nil
	}
	if rec == nil {
		return OrderView{}, apperr.NotFound("order not found")
	}
	return s.view(ctx, *rec), nil
}

// FindOne returns one order matching every filter.
func (s *Service) FindOne(ctx context.Context, fs orders.FilterSet) (OrderView, error) {
	recs, err := s.find(ctx, fs)
	if err != nil {
		return OrderView{}, err
	}
	if len(recs) == 0 {
		return OrderView{}, apperr.NotFound("order not found")
	}
	return s.view(ctx, recs[0]), nil
}

// FindMany returns every order matching all filters. No match is an empty
// result, not an error.
func (s *Service) FindMany(ctx context.Context, fs orders.FilterSet) ([]OrderView, error) {
	recs, err := s.find(ctx, fs)
	if err != nil {
		return nil, err
	}
	out := make([]OrderView, 0, len(recs))
	for _, r := range recs {
		out = append(out, s.view(ctx, r))
	}
	return out, nil
}

// find scans for fs; a record store failure degrades to an empty result.
func (s *Service) find(ctx context.Context, fs orders.FilterSet) ([]orders.Record, error) {
	if fs.Len() == 0 {
		return nil, apperr.Validation(orders.ErrEmptyFilter.Error())
	}
	recs, err := s.records.Scan(ctx, fs)
	if err != nil {
		s.logger.Warn("scan orders failed, treating as empty", "filters", fs.String(), "err", err)
		return nil, nil
	}
	return recs, nil
}

// UpdateOrder applies p to the order with id after checking that it exists.
func (s *Service) UpdateOrder(ctx context.Context, id string, p orders.Patch) (OrderView, error) {
	if p.IsEmpty() {
		return OrderView{}, apperr.Validation(orders.ErrEmptyPatch.Error())
	}
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		s.logger.Warn("get order failed, treating as absent", "id", id, "err", err)
		rec = nil
	}
	if rec == nil {
		return OrderView{}, apperr.NotFound("order not found")
	}

	if err := s.records.Patch(ctx, id, p); err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return OrderView{}, apperr.NotFound("order not found")
		}
		s.logger.Error("patch order failed", "id", id, "err", err)
		return OrderView{}, apperr.Storage("update order", err)
	}

	if fresh, err := s.records.Get(ctx, id); err == nil && fresh != nil {
		return s.view(ctx, *fresh), nil
	}
	p.Apply(rec, s.nowFunc().UTC())
	return s.view(ctx, *rec), nil
}

// UpdateMany applies p to every order matching fs and returns how many were
// patched. Records are patched one at a time; a failure stops the batch and
// earlier patches stay applied.
func (s *Service) UpdateMany(ctx context.Context, fs orders.FilterSet, p orders.Patch) (int, error) {
	if fs.Len() == 0 {
		return 0, apperr.Validation(orders.ErrEmptyFilter.Error())
	}
	if p.IsEmpty() {
		return 0, apperr.Validation(orders.ErrEmptyPatch.Error())
	}
	recs, err := s.records.Scan(ctx, fs)
	if err != nil {
		s.logger.Error("scan orders failed", "filters", fs.String(), "err", err)
		return 0, apperr.Storage("update orders", err)
	}

	updated := 0
	for _, r := range recs {
		if err := s.records.Patch(ctx, r.ID, p); err != nil {
			if errors.Is(err, orders.ErrNotFound) {
				// deleted since the scan
				continue
			}
			s.logger.Error("bulk patch stopped", "id", r.ID, "updated", updated, "err", err)
			return updated, apperr.Storage("update orders", err)
		}
		updated++
	}
	return updated, nil
}

// DeleteOrder removes the order with id and every asset under its prefix.
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		s.logger.Error("get order failed", "id", id, "err", err)
		return apperr.Storage("delete order", err)
	}
	if rec == nil {
		return apperr.NotFound("order not found")
	}
	return s.deleteOrder(ctx, id)
}

// DeleteMany removes every order matching fs and returns how many were
// deleted. Matching nothing is a not-found error.
func (s *Service) DeleteMany(ctx context.Context, fs orders.FilterSet) (int, error) {
	if fs.Len() == 0 {
		return 0, apperr.Validation(orders.ErrEmptyFilter.Error())
	}
	recs, err := s.records.Scan(ctx, fs)
	if err != nil {
		s.logger.Error("scan orders failed", "filters", fs.String(), "err", err)
		return 0, apperr.Storage("delete orders", err)
	}
	if len(recs) == 0 {
		return 0, apperr.NotFound("no orders match the filters")
	}

	deleted := 0
	for _, r := range recs {
		if err := s.deleteOrder(ctx, r.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// deleteOrder removes the assets of id, then its record. An asset failure is
// handed to the compensator and does not keep the record.
func (s *Service) deleteOrder(ctx context.Context, id string) error {
	prefix := orders.Prefix(id)
	n, err := s.objects.DeletePrefix(ctx, prefix+"/")
	if err != nil {
		s.logger.Error("delete order assets failed", "id", id, "prefix", prefix, "deleted", n, "err", err)
		s.compensator.AssetCleanupFailed(ctx, id, prefix, err)
	}
	if err := s.records.Delete(ctx, id); err != nil {
		s.logger.Error("delete order record failed", "id", id, "err", err)
		return apperr.Storage("delete order", err)
	}
	s.metrics.Count(ctx, MetricOrdersDeleted, 1)
	s.logger.Info("order deleted", "id", id, "assets", n)
	return nil
}

type nopMetrics struct{}

func (nopMetrics) Count(context.Context, string, float64) {}
