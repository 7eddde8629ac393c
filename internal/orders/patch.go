package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-playground/validator/v10"
)

// Patch is a partial update of a Record. Nil fields are left untouched.
// The record id is not patchable; UpdatedAt is always stamped by the store.
type Patch struct {
	CheckoutID *string `json:"checkoutId,omitempty"`
	OrderID    *string `json:"orderId,omitempty"`
	UserID     *string `json:"userId,omitempty"`
	UserEmail  *string `json:"userEmail,omitempty"`
	OriginID   *string `json:"originId,omitempty"`
	Quantity   *int    `json:"quantity,omitempty"`
	Size       *string `json:"size,omitempty"`
	Color      *string `json:"color,omitempty"`

	// asset locations, written by the lifecycle service only
	File      *string    `json:"-"`
	FileURL   *string    `json:"-"`
	Thumbnail *Thumbnail `json:"-"`
}

var validate = validator.New()

// clientPatchFields are the keys a caller may send in an update body.
var clientPatchFields = []string{
	"checkoutId", "orderId", "userId", "userEmail", "originId", "quantity", "size", "color",
}

// ParsePatch decodes a caller-supplied JSON update. "id" is ignored, any key
// outside the allow-list is rejected, and a body left with no field fails
// with ErrEmptyPatch.
func ParsePatch(body []byte) (Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Patch{}, fmt.Errorf("invalid update body: %w", err)
	}
	delete(raw, "id")

	for k := range raw {
		if !slices.Contains(clientPatchFields, k) {
			return Patch{}, fmt.Errorf("%w: %q", ErrUnknownField, k)
		}
	}

	cleaned, err := json.Marshal(raw)
	if err != nil {
		return Patch{}, fmt.Errorf("invalid update body: %w", err)
	}
	var p Patch
	dec := json.NewDecoder(bytes.NewReader(cleaned))
	if err := dec.Decode(&p); err != nil {
		return Patch{}, fmt.Errorf("invalid update body: %w", err)
	}
	if p.Quantity != nil && *p.Quantity < 1 {
		return Patch{}, fmt.Errorf("quantity must be at least 1")
	}
	if p.UserEmail != nil {
		if err := validate.Var(*p.UserEmail, "required,email"); err != nil {
			return Patch{}, fmt.Errorf("userEmail must be a valid email address")
		}
	}
	if p.IsEmpty() {
		return Patch{}, ErrEmptyPatch
	}
	return p, nil
}

// IsEmpty reports whether p sets no field.
func (p Patch) IsEmpty() bool {
	return len(p.assignments()) == 0
}

type assignment struct {
	path  []string
	value types.AttributeValue
}

// assignments lists the attribute writes of p in a fixed order.
func (p Patch) assignments() []assignment {
	var out []assignment
	str := func(v *string, path ...string) {
		if v != nil {
			out = append(out, assignment{path: path, value: &types.AttributeValueMemberS{Value: *v}})
		}
	}
	str(p.CheckoutID, "checkoutId")
	str(p.OrderID, "orderId")
	str(p.UserID, "userId")
	str(p.UserEmail, "userEmail")
	str(p.OriginID, "originId")
	if p.Quantity != nil {
		out = append(out, assignment{
			path:  []string{"quantity"},
			value: &types.AttributeValueMemberN{Value: strconv.Itoa(*p.Quantity)},
		})
	}
	str(p.Size, "tshirt", "size")
	str(p.Color, "tshirt", "color")
	str(p.File, "tshirt", "file")
	str(p.FileURL, "tshirt", "fileUrl")
	if p.Thumbnail != nil {
		out = append(out, assignment{
			path: []string{"tshirt", "thumbnail"},
			value: &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
				"path": &types.AttributeValueMemberS{Value: p.Thumbnail.Path},
				"url":  &types.AttributeValueMemberS{Value: p.Thumbnail.URL},
			}},
		})
	}
	return out
}

// updateExpression renders p plus the updatedAt stamp as a SET expression.
func (p Patch) updateExpression(b *exprBuilder, now time.Time) (string, error) {
	ua, err := attributevalue.Marshal(now)
	if err != nil {
		return "", fmt.Errorf("marshal updatedAt: %w", err)
	}
	sets := make([]string, 0, len(p.assignments())+1)
	for _, a := range p.assignments() {
		sets = append(sets, b.path(a.path)+" = "+b.value(a.value))
	}
	sets = append(sets, b.path([]string{"updatedAt"})+" = "+b.value(ua))
	return "SET " + strings.Join(sets, ", "), nil
}

// Apply writes the fields of p onto r and stamps UpdatedAt.
func (p Patch) Apply(r *Record, now time.Time) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.CheckoutID, p.CheckoutID)
	set(&r.OrderID, p.OrderID)
	set(&r.UserID, p.UserID)
	set(&r.UserEmail, p.UserEmail)
	set(&r.OriginID, p.OriginID)
	if p.Quantity != nil {
		r.Quantity = *p.Quantity
	}
	set(&r.TShirt.Size, p.Size)
	set(&r.TShirt.Color, p.Color)
	set(&r.TShirt.File, p.File)
	set(&r.TShirt.FileURL, p.FileURL)
	if p.Thumbnail != nil {
		th := *p.Thumbnail
		r.TShirt.Thumbnail = &th
	}
	r.UpdatedAt = now
}
