package validation

// CreateOrderRequest holds the form fields of a multipart POST /order.
type CreateOrderRequest struct {
	UserID     string `form:"userId" validate:"notblank"`
	UserEmail  string `form:"userEmail" validate:"notblank,email"`
	Size       string `form:"size" validate:"notblank,max=16"`
	Color      string `form:"color" validate:"notblank,max=64"`
	CheckoutID string `form:"checkoutId" validate:"notblank"`
	Quantity   int    `form:"quantity" validate:"required,min=1"` // must be >= 1
	OrderID    string `form:"orderId"`
	OriginID   string `form:"originId"`
}
