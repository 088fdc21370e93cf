package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pagcore/internal/model"
)

type mockService struct {
	lastPayment model.PaymentRequest
	txn         *model.Transaction
	err         error
}

func (m *mockService) CreatePayment(ctx context.Context, req model.PaymentRequest) (*model.Transaction, error) {
	m.lastPayment = req
	return m.txn, m.err
}

func (m *mockService) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return m.txn, m.err
}

func (m *mockService) Cancel(ctx context.Context, id string) (*model.Transaction, error) {
	return m.txn, m.err
}

func (m *mockService) Reverse(ctx context.Context, id string) (*model.Transaction, error) {
	return m.txn, m.err
}

func (m *mockService) RegisterReceipt(ctx context.Context, req model.ReceiptRequest) (*model.Transaction, error) {
	return m.txn, m.err
}

type mockAdmin struct {
	Admin // panic on anything a test does not stub

	account  *model.Account
	endpoint *model.WebhookEndpoint
	err      error
}

func (m *mockAdmin) CreateAccount(ctx context.Context, acc *model.Account) error {
	acc.ID = "acc-new"
	return m.err
}

func (m *mockAdmin) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	if m.account == nil {
		return nil, model.ErrAccountNotFound
	}
	return m.account, m.err
}

func (m *mockAdmin) UpsertEndpoint(ctx context.Context, ep *model.WebhookEndpoint) error {
	m.endpoint = ep
	return m.err
}

func newTestMux(svc Service, admin Admin) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(svc, admin).Register(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestCreatePayment_Created(t *testing.T) {
	svc := &mockService{txn: &model.Transaction{ID: "txn-1", Status: model.StatusCompleted}}
	mux := newTestMux(svc, &mockAdmin{})

	req := model.PaymentRequest{
		ClientID:       "client-1",
		DebitAccountID: "acc-1",
		Target:         model.RailTarget{Rail: model.RailInternal, InternalAccountID: "acc-2"},
		Amount:         1000,
	}
	rec := do(t, mux, http.MethodPost, "/payments", req, map[string]string{"Idempotency-Key": "hdr-key"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if svc.lastPayment.IdempotencyKey != "hdr-key" {
		t.Errorf("idempotency key from header not plumbed: %q", svc.lastPayment.IdempotencyKey)
	}
	var txn model.Transaction
	if err := json.Unmarshal(rec.Body.Bytes(), &txn); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if txn.ID != "txn-1" {
		t.Errorf("transaction id = %q", txn.ID)
	}
}

func TestCreatePayment_ErrorMapping(t *testing.T) {
	cases := []struct {
		err      error
		wantCode int
		wantBody string
	}{
		{model.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR"},
		{model.ErrInsufficientFunds, http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
		{model.ErrDailyLimitExceeded, http.StatusBadRequest, "DAILY_LIMIT_EXCEEDED"},
		{model.ErrAccountInactive, http.StatusUnprocessableEntity, "ACCOUNT_INACTIVE"},
		{model.ErrAccountNotFound, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tc := range cases {
		svc := &mockService{err: tc.err}
		mux := newTestMux(svc, &mockAdmin{})

		rec := do(t, mux, http.MethodPost, "/payments", model.PaymentRequest{Amount: 1}, nil)
		if rec.Code != tc.wantCode {
			t.Errorf("%v: status = %d, want %d", tc.err, rec.Code, tc.wantCode)
		}
		if got := errorCode(t, rec); got != tc.wantBody {
			t.Errorf("%v: error code = %q, want %q", tc.err, got, tc.wantBody)
		}
	}
}

func TestCreatePayment_BadJSON(t *testing.T) {
	mux := newTestMux(&mockService{}, &mockAdmin{})

	req := httptest.NewRequest(http.MethodPost, "/payments", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := errorCode(t, rec); got != "INVALID_JSON" {
		t.Errorf("error code = %q", got)
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	mux := newTestMux(&mockService{err: model.ErrNotFound}, &mockAdmin{})

	rec := do(t, mux, http.MethodGet, "/transactions/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelTransaction_Conflict(t *testing.T) {
	mux := newTestMux(&mockService{err: model.ErrInvalidTransition}, &mockAdmin{})

	rec := do(t, mux, http.MethodPost, "/transactions/txn-1/cancel", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if got := errorCode(t, rec); got != "ILLEGAL_TRANSITION" {
		t.Errorf("error code = %q", got)
	}
}

func TestGetAccount(t *testing.T) {
	admin := &mockAdmin{account: &model.Account{ID: "acc-1", ClientID: "client-1", Available: 5000, Active: true}}
	mux := newTestMux(&mockService{}, admin)

	rec := do(t, mux, http.MethodGet, "/accounts/acc-1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var acc model.Account
	if err := json.Unmarshal(rec.Body.Bytes(), &acc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acc.Available != 5000 {
		t.Errorf("available = %d", acc.Available)
	}

	admin.account = nil
	rec = do(t, mux, http.MethodGet, "/accounts/ghost", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing account status = %d, want 404", rec.Code)
	}
}

func TestConfigureWebhookEndpoint(t *testing.T) {
	admin := &mockAdmin{}
	mux := newTestMux(&mockService{}, admin)

	body := map[string]string{"client_id": "client-1", "url": "https://client.example/hook", "secret": "s3cret"}
	rec := do(t, mux, http.MethodPut, "/webhook-endpoints", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if admin.endpoint == nil || admin.endpoint.URL != "https://client.example/hook" {
		t.Fatalf("endpoint not upserted: %+v", admin.endpoint)
	}
	// The shared secret must never echo back in the response.
	if bytes.Contains(rec.Body.Bytes(), []byte("s3cret")) {
		t.Error("secret leaked in response body")
	}

	rec = do(t, mux, http.MethodPut, "/webhook-endpoints", map[string]string{"client_id": "client-1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("incomplete config status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	mux := newTestMux(&mockService{}, &mockAdmin{})

	rec := do(t, mux, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
