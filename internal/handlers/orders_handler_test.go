package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/tshirt-orderflow/internal/apperr"
	"github.com/imrishuroy/tshirt-orderflow/internal/bgremove"
	"github.com/imrishuroy/tshirt-orderflow/internal/idempotency"
	"github.com/imrishuroy/tshirt-orderflow/internal/lifecycle"
	"github.com/imrishuroy/tshirt-orderflow/internal/objectstore"
	"github.com/imrishuroy/tshirt-orderflow/internal/orders"
	"github.com/imrishuroy/tshirt-orderflow/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	base        = "/api/tshirt"
	ordersTable = "tshirt-orders"
	bucket      = "assets"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	dynamo *testutil.MemoryDynamo
	s3     *testutil.MemoryS3
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, mutate func(*HandlerConfig)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		dynamo: testutil.NewMemoryDynamo(),
		s3:     testutil.NewMemoryS3(),
	}
	objects := objectstore.New(ts.s3, testutil.StaticPresigner{}, bucket)
	svc := lifecycle.NewService(lifecycle.Config{
		Records: orders.NewDynamoStore(ts.dynamo, ordersTable),
		Objects: objects,
		Logger:  quietLogger(),
	})
	cfg := HandlerConfig{
		Orders: svc,
		Logger: quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ts.router = gin.New()
	ts.router.Use(RequestMetrics(prometheus.NewRegistry()))
	RegisterSystemRoutes(ts.router, nil)
	RegisterRoutes(ts.router, base, cfg)
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func orderFields() map[string]string {
	return map[string]string{
		"checkoutId": "c1",
		"userId":     "u1",
		"userEmail":  "u1@example.com",
		"size":       "M",
		"color":      "red",
		"quantity":   "1",
	}
}

type upload struct {
	field, name, contentType string
	data                     []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pngUpload() upload {
	return upload{field: "file", name: "art.png", contentType: "image/png", data: testutil.PNG(400, 300)}
}

type orderData struct {
	ID   string `json:"id"`
	File struct {
		Path      string `json:"path"`
		URL       string `json:"url"`
		Thumbnail *struct {
			Path string `json:"path"`
			URL  string `json:"url"`
		} `json:"thumbnail"`
	} `json:"file"`
	CheckoutID string `json:"checkoutId"`
	UserID     string `json:"userId"`
	Color      string `json:"color"`
	Size       string `json:"size"`
	Quantity   int    `json:"quantity"`
}

func (ts *testServer) createOrder(t *testing.T, fields map[string]string) orderData {
	t.Helper()
	w, env := ts.do(t, multipartRequest(t, base+"/order", fields, pngUpload()))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d orderData
	require.NoError(t, json.Unmarshal(env.Data, &d))
	return d
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCreateOrder(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.do(t, multipartRequest(t, base+"/order", orderFields(), pngUpload()))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, env.Success)

	var d orderData
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.NotEmpty(t, d.ID)
	assert.NotEmpty(t, d.File.Path)
	require.NotNil(t, d.File.Thumbnail)
	assert.NotEmpty(t, d.File.Thumbnail.Path)
	assert.Equal(t, "c1", d.CheckoutID)
	assert.Equal(t, 1, d.Quantity)
	assert.Equal(t, base+"/order/"+d.ID, w.Header().Get("Location"))
}

func TestCreateOrder_ImageFieldFallback(t *testing.T) {
	ts := newTestServer(t, nil)
	up := pngUpload()
	up.field = "image"

	w, _ := ts.do(t, multipartRequest(t, base+"/order", orderFields(), up))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreateOrder_Rejects(t *testing.T) {
	ts := newTestServer(t, nil)

	w, env := ts.do(t, multipartRequest(t, base+"/order", orderFields()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "file is required", env.Message)

	fields := orderFields()
	delete(fields, "userId")
	delete(fields, "size")
	w, env = ts.do(t, multipartRequest(t, base+"/order", fields, pngUpload()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "missing required fields: userId, size", env.Message)

	fields = orderFields()
	fields["quantity"] = "lots"
	w, _ = ts.do(t, multipartRequest(t, base+"/order", fields, pngUpload()))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, jsonRequest(http.MethodPost, base+"/order", `{"userId":"u1"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, ts.dynamo.Len(ordersTable), "nothing is written for rejected requests")
}

func TestCreateOrder_TooLarge(t *testing.T) {
	ts := newTestServer(t, func(cfg *HandlerConfig) { cfg.MaxUploadBytes = 256 })

	w, env := ts.do(t, multipartRequest(t, base+"/order", orderFields(), pngUpload()))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.False(t, env.Success)
}

func TestCreateOrder_RemovesSpilledParts(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	ts := newTestServer(t, nil)

	big := upload{field: "file", name: "print.bin", contentType: "application/octet-stream",
		data: bytes.Repeat([]byte{0xAB}, multipartMemory+1<<20)}
	w, _ := ts.do(t, multipartRequest(t, base+"/order", orderFields(), big))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left)

	fields := orderFields()
	delete(fields, "userEmail")
	w, _ = ts.do(t, multipartRequest(t, base+"/order", fields, big))
	require.Equal(t, http.StatusBadRequest, w.Code)
	left, err = os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, left, "rejected uploads are cleaned up too")
}

func TestCreateOrder_StorageFailureIsGeneric(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.dynamo.Errs["PutItem"] = errors.New("AccessDeniedException: secret-table-arn")

	w, env := ts.do(t, multipartRequest(t, base+"/order", orderFields(), pngUpload()))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperr.GenericMessage, env.Message)
	assert.NotContains(t, w.Body.String(), "secret-table-arn")
}

func TestGetOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	d := ts.createOrder(t, orderFields())

	w, env := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/"+d.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got orderData
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.File.Path, got.File.Path)

	w, env = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestSearch(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.createOrder(t, orderFields())
	other := orderFields()
	other["userId"] = "u2"
	other["color"] = "blue"
	ts.createOrder(t, other)

	w, env := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/search/all", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "at least one filter required", env.Message)

	w, env = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/search/all?userId=&orderId=", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "empty values are dropped")
	assert.Equal(t, "at least one filter required", env.Message)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/search/all?status=paid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/search/all?userId=u1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []orderData
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	w, env = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/search/all?userId=nobody", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	w, env = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/search/one?color=blue&size=M", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var one orderData
	require.NoError(t, json.Unmarshal(env.Data, &one))
	assert.Equal(t, "u2", one.UserID)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/search/one?color=green", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	d := ts.createOrder(t, orderFields())

	w, env := ts.do(t, jsonRequest(http.MethodPut, base+"/order/"+d.ID, `{"color":"blue","id":"other"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got orderData
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, "blue", got.Color)
	assert.Equal(t, "M", got.Size)

	for _, body := range []string{``, `{}`, `{"id":"x"}`, `{"status":"paid"}`, `{"quantity":0}`, `{"userEmail":"nope"}`} {
		w, env = ts.do(t, jsonRequest(http.MethodPut, base+"/order/"+d.ID, body))
		assert.Equal(t, http.StatusBadRequest, w.Code, "body %q", body)
		assert.False(t, env.Success)
	}

	w, _ = ts.do(t, jsonRequest(http.MethodPut, base+"/order/missing", `{"color":"blue"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Nil(t, ts.dynamo.Item(ordersTable, "missing"))
}

func TestDeleteOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	d := ts.createOrder(t, orderFields())
	require.Len(t, ts.s3.Keys(bucket), 2)

	w, env := ts.do(t, httptest.NewRequest(http.MethodDelete, base+"/order/"+d.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.Empty(t, ts.s3.Keys(bucket))

	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/"+d.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = ts.do(t, httptest.NewRequest(http.MethodDelete, base+"/order/"+d.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestBulkUpdateAndDelete(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createOrder(t, orderFields())
	ts.createOrder(t, orderFields())
	other := orderFields()
	other["userId"] = "u2"
	keep := ts.createOrder(t, other)

	w, _ := ts.do(t, jsonRequest(http.MethodPut, base+"/order/search/update", `{"size":"XL"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := ts.do(t, jsonRequest(http.MethodPut, base+"/order/search/update?userId=u1", `{"size":"XL"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"updated":2}`, string(env.Data))

	w, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, base+"/order/search/delete", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodDelete, base+"/order/search/delete?userId=nobody", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = ts.do(t, httptest.NewRequest(http.MethodDelete, base+"/order/search/delete?size=XL", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":2}`, string(env.Data))
	assert.Equal(t, 1, ts.dynamo.Len(ordersTable))
	assert.NotNil(t, ts.dynamo.Item(ordersTable, keep.ID))
}

func TestIdempotentCreate(t *testing.T) {
	idemDynamo := testutil.NewMemoryDynamo()
	ts := newTestServer(t, func(cfg *HandlerConfig) {
		cfg.Idempotency = idempotency.NewStore(idemDynamo, "idempotency", time.Hour)
	})

	send := func(key string) *httptest.ResponseRecorder {
		req := multipartRequest(t, base+"/order", orderFields(), pngUpload())
		req.Header.Set(IdempotencyKeyHeader, key)
		w, _ := ts.do(t, req)
		return w
	}

	first := send("k1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send("k1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, ts.dynamo.Len(ordersTable))

	third := send("k2")
	assert.Equal(t, http.StatusCreated, third.Code)
	assert.Equal(t, 2, ts.dynamo.Len(ordersTable))
}

func TestIdempotentCreate_FailedKeyConflicts(t *testing.T) {
	idemDynamo := testutil.NewMemoryDynamo()
	ts := newTestServer(t, func(cfg *HandlerConfig) {
		cfg.Idempotency = idempotency.NewStore(idemDynamo, "idempotency", time.Hour)
	})
	ts.s3.Errs["PutObject"] = errors.New("unavailable")

	req := multipartRequest(t, base+"/order", orderFields(), pngUpload())
	req.Header.Set(IdempotencyKeyHeader, "k1")
	w, _ := ts.do(t, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	delete(ts.s3.Errs, "PutObject")
	req = multipartRequest(t, base+"/order", orderFields(), pngUpload())
	req.Header.Set(IdempotencyKeyHeader, "k1")
	w, env := ts.do(t, req)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, env.Message, "new Idempotency-Key")
}

func TestIdempotentCreate_InProgress(t *testing.T) {
	idemDynamo := testutil.NewMemoryDynamo()
	store := idempotency.NewStore(idemDynamo, "idempotency", time.Hour)
	_, err := store.Claim(context.Background(), "busy")
	require.NoError(t, err)
	ts := newTestServer(t, func(cfg *HandlerConfig) { cfg.Idempotency = store })

	req := multipartRequest(t, base+"/order", orderFields(), pngUpload())
	req.Header.Set(IdempotencyKeyHeader, "busy")
	w, env := ts.do(t, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "request already in progress", env.Message)
	assert.Zero(t, ts.dynamo.Len(ordersTable))
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, func(cfg *HandlerConfig) {
		cfg.GlobalLimiter = NewRateLimiter(2, time.Hour, "too many requests")
	})

	for i := 0; i < 2; i++ {
		w, _ := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/x", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	w, env := ts.do(t, httptest.NewRequest(http.MethodGet, base+"/order/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "too many requests", env.Message)

	w, _ = ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code, "system routes are not limited")
}

type fakeRemover struct {
	got []byte
	err error
}

func (f *fakeRemover) Remove(ctx context.Context, name, contentType string, r io.Reader) (bgremove.Result, error) {
	if f.err != nil {
		return bgremove.Result{}, f.err
	}
	f.got, _ = io.ReadAll(r)
	return bgremove.Result{ID: "job", OutputURL: "https://cdn.test/" + name}, nil
}

func TestRemoveBackground(t *testing.T) {
	remover := &fakeRemover{}
	ts := newTestServer(t, func(cfg *HandlerConfig) { cfg.Remover = remover })
	target := base + "/helpers/background-remover"

	w, env := ts.do(t, multipartRequest(t, target, map[string]string{"note": "x"},
		upload{field: "image", name: "art.png", contentType: "image/png", data: []byte("pixels")}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"processedImageUrl":"https://cdn.test/art.png"}`, string(env.Data))
	assert.Equal(t, "pixels", string(remover.got))

	w, env = ts.do(t, multipartRequest(t, target, map[string]string{"note": "x"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "image is required", env.Message)

	remover.err = apperr.Upstream("remove background", errors.New("quota exceeded"))
	w, env = ts.do(t, multipartRequest(t, target, nil,
		upload{field: "image", name: "art.png", contentType: "image/png", data: []byte("pixels")}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperr.GenericMessage, env.Message)
}
