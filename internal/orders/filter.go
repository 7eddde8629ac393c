package orders

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Field is a filterable record attribute.
type Field string

// Filterable fields. Size and Color live under the tshirt map.
const (
	FieldID         Field = "id"
	FieldCheckoutID Field = "checkoutId"
	FieldOrderID    Field = "orderId"
	FieldUserID     Field = "userId"
	FieldUserEmail  Field = "userEmail"
	FieldOriginID   Field = "originId"
	FieldQuantity   Field = "quantity"
	FieldSize       Field = "size"
	FieldColor      Field = "color"
)

var fields = []Field{
	FieldID, FieldCheckoutID, FieldOrderID, FieldUserID, FieldUserEmail,
	FieldOriginID, FieldQuantity, FieldSize, FieldColor,
}

// ParseField resolves an attribute name to a Field.
func ParseField(name string) (Field, bool) {
	f := Field(name)
	return f, slices.Contains(fields, f)
}

// path returns the attribute path of f inside a stored item.
func (f Field) path() []string {
	switch f {
	case FieldSize, FieldColor:
		return []string{"tshirt", string(f)}
	default:
		return []string{string(f)}
	}
}

func (f Field) attributeValue(v string) types.AttributeValue {
	if f == FieldQuantity {
		return &types.AttributeValueMemberN{Value: v}
	}
	return &types.AttributeValueMemberS{Value: v}
}

// valueOf reads f from r in its string form.
func (f Field) valueOf(r Record) string {
	switch f {
	case FieldID:
		return r.ID
	case FieldCheckoutID:
		return r.CheckoutID
	case FieldOrderID:
		return r.OrderID
	case FieldUserID:
		return r.UserID
	case FieldUserEmail:
		return r.UserEmail
	case FieldOriginID:
		return r.OriginID
	case FieldQuantity:
		return strconv.Itoa(r.Quantity)
	case FieldSize:
		return r.TShirt.Size
	case FieldColor:
		return r.TShirt.Color
	}
	return ""
}

// Condition is a single equality term.
type Condition struct {
	Field Field
	Value string
}

// FilterSet is a conjunction of equality conditions over known fields.
// The zero value is an empty set.
type FilterSet struct {
	conds map[Field]string
}

// NewFilterSet returns an empty filter set.
func NewFilterSet() FilterSet {
	return FilterSet{}
}

// Eq returns a copy of fs that also requires f == value.
// A later Eq on the same field replaces the earlier value.
func (fs FilterSet) Eq(f Field, value string) FilterSet {
	next := make(map[Field]string, len(fs.conds)+1)
	for k, v := range fs.conds {
		next[k] = v
	}
	next[f] = value
	return FilterSet{conds: next}
}

// Len returns the number of conditions.
func (fs FilterSet) Len() int {
	return len(fs.conds)
}

// Conditions returns the conditions ordered by field name.
func (fs FilterSet) Conditions() []Condition {
	out := make([]Condition, 0, len(fs.conds))
	for f, v := range fs.conds {
		out = append(out, Condition{Field: f, Value: v})
	}
	slices.SortFunc(out, func(a, b Condition) int {
		return strings.Compare(string(a.Field), string(b.Field))
	})
	return out
}

// Match reports whether r satisfies every condition.
func (fs FilterSet) Match(r Record) bool {
	for f, v := range fs.conds {
		if f.valueOf(r) != v {
			return false
		}
	}
	return true
}

// String renders the set as field=value pairs, for logs.
func (fs FilterSet) String() string {
	parts := make([]string, 0, len(fs.conds))
	for _, c := range fs.Conditions() {
		parts = append(parts, string(c.Field)+"="+c.Value)
	}
	return strings.Join(parts, ",")
}

// filterExpression renders the set as an AND of equality terms.
func (fs FilterSet) filterExpression(b *exprBuilder) string {
	terms := make([]string, 0, len(fs.conds))
	for _, c := range fs.Conditions() {
		terms = append(terms, b.path(c.Field.path())+" = "+b.value(c.Field.attributeValue(c.Value)))
	}
	return strings.Join(terms, " AND ")
}

// ParseFilters builds a FilterSet from query parameters. Empty values are
// dropped; unknown keys and non-integer quantities are rejected.
func ParseFilters(query map[string][]string) (FilterSet, error) {
	fs := NewFilterSet()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		vals := query[k]
		if len(vals) == 0 || vals[0] == "" {
			continue
		}
		f, ok := ParseField(k)
		if !ok {
			return FilterSet{}, fmt.Errorf("%w: %q", ErrUnknownField, k)
		}
		v := vals[0]
		if f == FieldQuantity {
			n, err := strconv.Atoi(v)
			if err != nil {
				return FilterSet{}, fmt.Errorf("quantity filter %q is not an integer", v)
			}
			v = strconv.Itoa(n)
		}
		fs = fs.Eq(f, v)
	}
	return fs, nil
}
