package orders

import "time"

// PrefixRoot is the key namespace under which every order's objects live.
const PrefixRoot = "custom-tshirt"

// Prefix returns the object key prefix of order id, without a trailing slash.
func Prefix(id string) string {
	return PrefixRoot + "/" + id
}

// Thumbnail locates a derived thumbnail image.
type Thumbnail struct {
	Path string `dynamodbav:"path" json:"path"`
	URL  string `dynamodbav:"url" json:"url"`
}

// TShirt is the asset descriptor of an order. File and FileURL stay empty
// until the asset upload phase completes.
type TShirt struct {
	File      string     `dynamodbav:"file" json:"file"`
	FileURL   string     `dynamodbav:"fileUrl" json:"fileUrl"`
	Thumbnail *Thumbnail `dynamodbav:"thumbnail,omitempty" json:"thumbnail,omitempty"`
	Size      string     `dynamodbav:"size" json:"size"`
	Color     string     `dynamodbav:"color" json:"color"`
}

// Record represents the item stored in the orders table.
type Record struct {
	ID         string    `dynamodbav:"id" json:"id"` // PK
	CheckoutID string    `dynamodbav:"checkoutId" json:"checkoutId"`
	OrderID    string    `dynamodbav:"orderId,omitempty" json:"orderId,omitempty"`
	UserID     string    `dynamodbav:"userId" json:"userId"`
	UserEmail  string    `dynamodbav:"userEmail" json:"userEmail"`
	OriginID   string    `dynamodbav:"originId,omitempty" json:"originId,omitempty"`
	Quantity   int       `dynamodbav:"quantity,omitempty" json:"quantity,omitempty"`
	TShirt     TShirt    `dynamodbav:"tshirt" json:"tshirt"`
	CreatedAt  time.Time `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `dynamodbav:"updatedAt" json:"updatedAt"`
}

// Pending reports whether the asset phase of the record has not completed yet.
func (r Record) Pending() bool {
	return r.TShirt.File == ""
}
