package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/tshirt-orderflow/internal/aws"
)

// DynamoStore encapsulates operations on the orders table, keyed by id.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a new orders store over tableName.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Put writes rec unconditionally, overwriting any record with the same id.
func (s *DynamoStore) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("put item: record id is empty")
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches a record by id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, id string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       key(id),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &rec, nil
}

// Delete removes the record with id. Deleting a missing record is not an error.
func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key:       key(id),
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// Patch applies p to the record with id and stamps updatedAt in the same write.
// Returns ErrNotFound if no such record exists; a patch never creates one.
func (s *DynamoStore) Patch(ctx context.Context, id string, p Patch) error {
	if p.IsEmpty() {
		return ErrEmptyPatch
	}
	b := newExprBuilder()
	updateExpr, err := p.updateExpression(b, s.nowFunc())
	if err != nil {
		return err
	}
	condExpr := "attribute_exists(" + b.name("id") + ")"

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key(id),
		UpdateExpression:          &updateExpr,
		ConditionExpression:       &condExpr,
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
	})
	if err != nil {
		// detect conditional check failing
		var cc *types.ConditionalCheckFailedException
		if errors.As(err, &cc) {
			return ErrNotFound
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// Scan returns every record matching all conditions of fs, following pagination.
func (s *DynamoStore) Scan(ctx context.Context, fs FilterSet) ([]Record, error) {
	if fs.Len() == 0 {
		return nil, ErrEmptyFilter
	}
	b := newExprBuilder()
	filterExpr := fs.filterExpression(b)

	paginator := dyn.NewScanPaginator(s.client, &dyn.ScanInput{
		TableName:                 &s.tableName,
		FilterExpression:          &filterExpr,
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
	})

	var out []Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var recs []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}
