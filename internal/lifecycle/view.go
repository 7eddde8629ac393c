package lifecycle

import (
	"context"
	"time"

	"github.com/imrishuroy/tshirt-orderflow/internal/orders"
)

// FileView locates the asset of an order.
type FileView struct {
	Path      string            `json:"path"`
	URL       string            `json:"url"`
	Thumbnail *orders.Thumbnail `json:"thumbnail,omitempty"`
}

// OrderView is the API shape of an order.
type OrderView struct {
	ID         string        `json:"id"`
	File       FileView      `json:"file"`
	CheckoutID string        `json:"checkoutId"`
	OrderID    string        `json:"orderId,omitempty"`
	UserID     string        `json:"userId"`
	UserEmail  string        `json:"userEmail"`
	OriginID   string        `json:"originId,omitempty"`
	Quantity   int           `json:"quantity,omitempty"`
	Size       string        `json:"size"`
	Color      string        `json:"color"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	OrderData  orders.Record `json:"orderData"`
}

// view expands rec, signing fresh URLs for its asset and thumbnail. A
// signing failure keeps the URL stored with the record.
func (s *Service) view(ctx context.Context, rec orders.Record) OrderView {
	v := OrderView{
		ID: rec.ID,
		File: FileView{
			Path: rec.TShirt.File,
			URL:  s.resign(ctx, rec.TShirt.File, rec.TShirt.FileURL),
		},
		CheckoutID: rec.CheckoutID,
		OrderID:    rec.OrderID,
		UserID:     rec.UserID,
		UserEmail:  rec.UserEmail,
		OriginID:   rec.OriginID,
		Quantity:   rec.Quantity,
		Size:       rec.TShirt.Size,
		Color:      rec.TShirt.Color,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		OrderData:  rec,
	}
	if th := rec.TShirt.Thumbnail; th != nil {
		v.File.Thumbnail = &orders.Thumbnail{
			Path: th.Path,
			URL:  s.resign(ctx, th.Path, th.URL),
		}
	}
	return v
}

func (s *Service) resign(ctx context.Context, key, stored string) string {
	if key == "" {
		return stored
	}
	url, err := s.objects.SignedURL(ctx, key, s.urlTTL)
	if err != nil {
		s.logger.Warn("re-sign url failed, using stored url", "key", key, "err", err)
		return stored
	}
	return url
}
