package orders

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// exprBuilder allocates ExpressionAttributeNames (#n0, #n1, ...) and
// ExpressionAttributeValues (:v0, :v1, ...) placeholders. Attribute names are
// never interpolated into expressions directly.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byName map[string]string
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
		byName: map[string]string{},
	}
}

// name returns the placeholder for attribute n, reusing an existing one.
func (b *exprBuilder) name(n string) string {
	if ph, ok := b.byName[n]; ok {
		return ph
	}
	ph := fmt.Sprintf("#n%d", len(b.names))
	b.names[ph] = n
	b.byName[n] = ph
	return ph
}

// path returns a dotted document path of name placeholders.
func (b *exprBuilder) path(segments []string) string {
	phs := make([]string, len(segments))
	for i, s := range segments {
		phs[i] = b.name(s)
	}
	return strings.Join(phs, ".")
}

func (b *exprBuilder) value(v types.AttributeValue) string {
	ph := fmt.Sprintf(":v%d", len(b.values))
	b.values[ph] = v
	return ph
}
