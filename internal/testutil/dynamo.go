package testutil

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// keyAttributes are the partition key names of the tables in this module.
var keyAttributes = []string{"id", "idempotency_key"}

// MemoryDynamo is an in-memory DynamoDBAPI.
type MemoryDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// Errs forces the named operation ("PutItem", "GetItem", "UpdateItem",
	// "DeleteItem", "Scan") to fail.
	Errs map[string]error
	// Calls counts invocations per operation.
	Calls map[string]int
}

// NewMemoryDynamo returns an empty MemoryDynamo.
func NewMemoryDynamo() *MemoryDynamo {
	return &MemoryDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
		Errs:   map[string]error{},
		Calls:  map[string]int{},
	}
}

// Item returns a copy of the stored item, or nil.
func (m *MemoryDynamo) Item(table, pk string) map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table(table)[pk]
	if !ok {
		return nil
	}
	return cloneItem(item)
}

// SetItem stores item directly, bypassing the API.
func (m *MemoryDynamo) SetItem(table string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, _ := pkOf(item)
	m.table(table)[pk] = cloneItem(item)
}

// Len returns the number of items in table.
func (m *MemoryDynamo) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table(table))
}

func (m *MemoryDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

func (m *MemoryDynamo) enter(op string) error {
	m.Calls[op]++
	return m.Errs[op]
}

func (m *MemoryDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PutItem"); err != nil {
		return nil, err
	}
	pk, err := pkOf(params.Item)
	if err != nil {
		return nil, err
	}
	t := m.table(*params.TableName)
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, t[pk]); err != nil {
		return nil, err
	}
	t[pk] = cloneItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (m *MemoryDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetItem"); err != nil {
		return nil, err
	}
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.table(*params.TableName)[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: cloneItem(item)}, nil
}

func (m *MemoryDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteItem"); err != nil {
		return nil, err
	}
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.table(*params.TableName), pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *MemoryDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateItem"); err != nil {
		return nil, err
	}
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	t := m.table(*params.TableName)
	current := t[pk]
	if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, current); err != nil {
		return nil, err
	}

	item := cloneItem(current)
	if item == nil {
		// UpdateItem upserts
		item = cloneItem(params.Key)
	}
	if params.UpdateExpression == nil {
		return nil, errors.New("missing update expression")
	}
	expr := strings.TrimSpace(*params.UpdateExpression)
	if !strings.HasPrefix(expr, "SET ") {
		return nil, fmt.Errorf("unsupported update expression %q", expr)
	}
	for _, clause := range strings.Split(strings.TrimPrefix(expr, "SET "), ",") {
		lhs, rhs, ok := strings.Cut(clause, "=")
		if !ok {
			return nil, fmt.Errorf("bad SET clause %q", clause)
		}
		v, ok := params.ExpressionAttributeValues[strings.TrimSpace(rhs)]
		if !ok {
			return nil, fmt.Errorf("missing value %q", rhs)
		}
		setPath(item, resolvePath(strings.TrimSpace(lhs), params.ExpressionAttributeNames), cloneAV(v))
	}
	t[pk] = item
	return &dyn.UpdateItemOutput{Attributes: cloneItem(item)}, nil
}

func (m *MemoryDynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("Scan"); err != nil {
		return nil, err
	}
	var items []map[string]types.AttributeValue
	for _, item := range m.table(*params.TableName) {
		if params.FilterExpression == nil || matches(item, *params.FilterExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues) {
			items = append(items, cloneItem(item))
		}
	}
	return &dyn.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

func matches(item map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) bool {
	for _, term := range strings.Split(expr, " AND ") {
		lhs, rhs, ok := strings.Cut(term, "=")
		if !ok {
			return false
		}
		got := getPath(item, resolvePath(strings.TrimSpace(lhs), names))
		want := values[strings.TrimSpace(rhs)]
		if !equalAV(got, want) {
			return false
		}
	}
	return true
}

func checkCondition(cond *string, names map[string]string, current map[string]types.AttributeValue) error {
	if cond == nil {
		return nil
	}
	expr := strings.ReplaceAll(strings.TrimSpace(*cond), " ", "")
	fn, arg, ok := strings.Cut(expr, "(")
	if !ok {
		return fmt.Errorf("unsupported condition %q", *cond)
	}
	attr := resolvePath(strings.TrimSuffix(arg, ")"), names)
	exists := current != nil && getPath(current, attr) != nil
	switch fn {
	case "attribute_exists":
		if !exists {
			return &types.ConditionalCheckFailedException{}
		}
	case "attribute_not_exists":
		if exists {
			return &types.ConditionalCheckFailedException{}
		}
	default:
		return fmt.Errorf("unsupported condition %q", *cond)
	}
	return nil
}

func pkOf(item map[string]types.AttributeValue) (string, error) {
	for _, k := range keyAttributes {
		if v, ok := item[k].(*types.AttributeValueMemberS); ok {
			return v.Value, nil
		}
	}
	return "", errors.New("no primary key in item")
}

func resolvePath(p string, names map[string]string) []string {
	segs := strings.Split(p, ".")
	for i, s := range segs {
		if n, ok := names[s]; ok {
			segs[i] = n
		}
	}
	return segs
}

func getPath(item map[string]types.AttributeValue, path []string) types.AttributeValue {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: item}
	for _, seg := range path {
		m, ok := cur.(*types.AttributeValueMemberM)
		if !ok {
			return nil
		}
		cur, ok = m.Value[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func setPath(item map[string]types.AttributeValue, path []string, v types.AttributeValue) {
	cur := item
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(*types.AttributeValueMemberM)
		if !ok {
			next = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}}
			cur[seg] = next
		}
		cur = next.Value
	}
	cur[path[len(path)-1]] = v
}

func equalAV(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		return err1 == nil && err2 == nil && x == y
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return false
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = cloneAV(v)
	}
	return out
}

func cloneAV(v types.AttributeValue) types.AttributeValue {
	switch av := v.(type) {
	case *types.AttributeValueMemberM:
		return &types.AttributeValueMemberM{Value: cloneItem(av.Value)}
	case *types.AttributeValueMemberL:
		l := make([]types.AttributeValue, len(av.Value))
		for i, e := range av.Value {
			l[i] = cloneAV(e)
		}
		return &types.AttributeValueMemberL{Value: l}
	case *types.AttributeValueMemberS:
		return &types.AttributeValueMemberS{Value: av.Value}
	case *types.AttributeValueMemberN:
		return &types.AttributeValueMemberN{Value: av.Value}
	default:
		return v
	}
}
