package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/tshirt-orderflow/internal/testutil"
)

const table = "idempotency-table"

func TestClaim_Get_MarkDone_MarkFailed(t *testing.T) {
	mock := testutil.NewMemoryDynamo()
	s := NewStore(mock, table, 48*time.Hour)
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }

	ctx := context.Background()
	key := "test-key-1"

	created, err := s.Claim(ctx, key)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second claim finds the first
	created2, err := s.Claim(ctx, key)
	if err != nil {
		t.Fatalf("second Claim error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate claim")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.ExpiresAt != fixed.Add(48*time.Hour).Unix() {
		t.Fatalf("expires_at = %d", rec.ExpiresAt)
	}

	err = s.MarkDone(ctx, key, "order-123", "{\"ok\":true}", 201)
	if err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}

	rec, err = s.Get(ctx, key)
	if err != nil || rec == nil {
		t.Fatalf("Get after MarkDone: %v %v", rec, err)
	}
	if rec.Status != StatusDone || rec.OrderID != "order-123" || rec.ResponseStatus != 201 {
		t.Fatalf("unexpected record after MarkDone: %+v", rec)
	}
	if rec.ResponseBody != "{\"ok\":true}" {
		t.Fatalf("response_body not set correctly: %q", rec.ResponseBody)
	}

	// MarkFailed overwrites status
	err = s.MarkFailed(ctx, key, "failed-reason")
	if err != nil {
		t.Fatalf("MarkFailed error: %v", err)
	}
	item := mock.Item(table, key)
	if item == nil {
		t.Fatalf("mock item missing after mark failed")
	}
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusFailed {
		t.Fatalf("status not updated to FAILED, got %+v", item["status"])
	}
	if n, ok := item["note"].(*types.AttributeValueMemberS); !ok || n.Value != "failed-reason" {
		t.Fatalf("note not set, got %+v", item["note"])
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(testutil.NewMemoryDynamo(), table, 0)
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
	if s.ttlWindow != DefaultTTL {
		t.Fatalf("ttl = %v, want default", s.ttlWindow)
	}
}

func TestClaim_TransportError(t *testing.T) {
	mock := testutil.NewMemoryDynamo()
	mock.Errs["PutItem"] = errors.New("throttled")
	s := NewStore(mock, table, time.Hour)

	created, err := s.Claim(context.Background(), "k")
	if err == nil || created {
		t.Fatalf("expected error, got created=%v err=%v", created, err)
	}
}
