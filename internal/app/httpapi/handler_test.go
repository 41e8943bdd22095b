package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akta-mmi/redistribution_core/internal/app"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/kiosk"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/storage/memory"
	"github.com/akta-mmi/redistribution_core/internal/chain"
	"github.com/akta-mmi/redistribution_core/internal/config"
	"github.com/akta-mmi/redistribution_core/internal/middleware"
)

func newTestHandler(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.SeedKiosk(kiosk.Kiosk{ID: "kiosk-a", Name: "Central"})
	store.SeedKiosk(kiosk.Kiosk{ID: "kiosk-b", Name: "Harbor"})
	store.SeedInventory("kiosk-a", "water-500ml", 150)
	store.SeedInventory("kiosk-b", "water-500ml", 30)
	store.SeedProduct(kiosk.Product{SKU: "water-500ml", Name: "Water 500ml", AcquiredPrice: 1.50, SuggestedPrice: 3.00})
	store.SeedRole("kiosk-user", kiosk.RoleKiosk)
	store.SeedAdmin(kiosk.Admin{UserID: "admin-user", Wallet: "WALLET123"})

	cfg := &config.Config{}
	cfg.Chain.DemoMode = true
	cfg.Pricing.OversupplyRatio = 0.85
	cfg.Pricing.UndersupplyRatio = 1.05

	application, err := app.New(cfg, app.Stores{
		Redistributions: store,
		Commands:        store,
		Transactions:    store,
		Kiosks:          store,
		Products:        store,
		Admins:          store,
		Roles:           store,
	}, chain.NewNoop(chain.Config{}), nil, app.Options{})
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	return NewHandler(application, nil, true, nil), store
}

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req = req.WithContext(middleware.WithUserID(context.Background(), userID))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var envelope struct {
		Status string                 `json:"status"`
		Data   map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	if envelope.Status != "ok" {
		t.Fatalf("envelope status = %q (body: %s)", envelope.Status, rec.Body.String())
	}
	return envelope.Data
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := decodeData(t, rec)
	if data["blockchain"] != "algorand:testnet" {
		t.Fatalf("blockchain = %v", data["blockchain"])
	}
	if data["demo_mode"] != true {
		t.Fatalf("demo_mode = %v, want true", data["demo_mode"])
	}
	if data["database"] != "in-memory" {
		t.Fatalf("database = %v", data["database"])
	}
}

func TestCreateRedistribution(t *testing.T) {
	h, _ := newTestHandler(t)

	body := map[string]interface{}{
		"from_kiosk_id": "kiosk-a",
		"to_kiosk_id":   "kiosk-b",
		"items":         []map[string]interface{}{{"sku": "water-500ml", "quantity": 40}},
		"client_req_id": "req-1",
	}
	rec := doRequest(t, h, http.MethodPost, "/api/redistributions", "kiosk-user", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	if data["status"] != "requested" {
		t.Fatalf("redistribution status = %v", data["status"])
	}
	pricing, ok := data["pricing"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing pricing in %v", data)
	}
	// 150 source units against 30 destination units is oversupply: 3.00 * 0.85.
	items := pricing["items"].([]interface{})
	unit := items[0].(map[string]interface{})["unit_price"].(float64)
	if unit != 2.55 {
		t.Fatalf("unit price = %v, want 2.55", unit)
	}

	// Same client_req_id returns the original request.
	rec2 := doRequest(t, h, http.MethodPost, "/api/redistributions", "kiosk-user", body)
	if rec2.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec2.Code)
	}
	if decodeData(t, rec2)["id"] != data["id"] {
		t.Fatal("replay returned a different redistribution")
	}
}

func TestCreateRedistributionRejectsBadBody(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/redistributions", bytes.NewBufferString("{not json"))
	req = req.WithContext(middleware.WithUserID(context.Background(), "kiosk-user"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRequiresKioskRole(t *testing.T) {
	h, _ := newTestHandler(t)
	body := map[string]interface{}{
		"from_kiosk_id": "kiosk-a",
		"to_kiosk_id":   "kiosk-b",
		"items":         []map[string]interface{}{{"sku": "water-500ml", "quantity": 5}},
		"client_req_id": "req-role",
	}
	rec := doRequest(t, h, http.MethodPost, "/api/redistributions", "admin-user", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestApproveFlow(t *testing.T) {
	h, _ := newTestHandler(t)

	createBody := map[string]interface{}{
		"from_kiosk_id": "kiosk-a",
		"to_kiosk_id":   "kiosk-b",
		"items":         []map[string]interface{}{{"sku": "water-500ml", "quantity": 40}},
		"client_req_id": "req-approve",
	}
	created := decodeData(t, doRequest(t, h, http.MethodPost, "/api/redistributions", "kiosk-user", createBody))
	id := created["id"].(string)

	approveBody := map[string]interface{}{"admin_wallet": "WALLET123"}
	rec := doRequest(t, h, http.MethodPost, "/api/redistributions/"+id+"/approve", "admin-user", approveBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	commandID := data["command_id"].(string)
	if commandID == "" || data["status"] != "approved" {
		t.Fatalf("approve data = %v", data)
	}

	// Replay returns the same command.
	rec2 := doRequest(t, h, http.MethodPost, "/api/redistributions/"+id+"/approve", "admin-user", approveBody)
	if decodeData(t, rec2)["command_id"] != commandID {
		t.Fatal("approve replay returned a different command")
	}

	// Wallet mismatch is a 400.
	rec3 := doRequest(t, h, http.MethodPost, "/api/redistributions/"+id+"/approve", "admin-user",
		map[string]interface{}{"admin_wallet": "OTHERWALLET", "client_req_id": "other"})
	if rec3.Code != http.StatusBadRequest {
		t.Fatalf("mismatch status = %d, want 400", rec3.Code)
	}

	// The creator can read the command; strangers cannot.
	rec4 := doRequest(t, h, http.MethodGet, "/api/commands/"+commandID, "admin-user", nil)
	if rec4.Code != http.StatusOK {
		t.Fatalf("get command status = %d", rec4.Code)
	}
	rec5 := doRequest(t, h, http.MethodGet, "/api/commands/"+commandID, "kiosk-user", nil)
	if rec5.Code != http.StatusForbidden {
		t.Fatalf("stranger get command status = %d, want 403", rec5.Code)
	}
}

func TestGetRedistributionNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doRequest(t, h, http.MethodGet, "/api/redistributions/missing", "kiosk-user", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListRedistributionsFilters(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, reqID := range []string{"l1", "l2"} {
		doRequest(t, h, http.MethodPost, "/api/redistributions", "kiosk-user", map[string]interface{}{
			"from_kiosk_id": "kiosk-a",
			"to_kiosk_id":   "kiosk-b",
			"items":         []map[string]interface{}{{"sku": "water-500ml", "quantity": 5}},
			"client_req_id": reqID,
		})
	}

	rec := doRequest(t, h, http.MethodGet, "/api/redistributions?status=requested&limit=1", "kiosk-user", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := decodeData(t, rec)
	items := data["items"].([]interface{})
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 with limit=1", len(items))
	}
	if data["limit"].(float64) != 1 {
		t.Fatalf("limit echo = %v", data["limit"])
	}
}

func TestTransactionEndpoints(t *testing.T) {
	h, store := newTestHandler(t)
	ctx := context.Background()

	// Drive a full approval through the dispatcher path by seeding directly.
	created := decodeData(t, doRequest(t, h, http.MethodPost, "/api/redistributions", "kiosk-user", map[string]interface{}{
		"from_kiosk_id": "kiosk-a",
		"to_kiosk_id":   "kiosk-b",
		"items":         []map[string]interface{}{{"sku": "water-500ml", "quantity": 5}},
		"client_req_id": "req-tx",
	}))
	seedTx(t, store, ctx, created["id"].(string), "demo-tx-1")

	rec := doRequest(t, h, http.MethodGet, "/api/tx/demo-tx-1", "kiosk-user", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get tx status = %d", rec.Code)
	}
	data := decodeData(t, rec)
	if data["explorer_url"] != "https://testnet.algoexplorer.io/tx/demo-tx-1" {
		t.Fatalf("explorer_url = %v", data["explorer_url"])
	}

	// Listing is admin only.
	rec = doRequest(t, h, http.MethodGet, "/api/transactions", "kiosk-user", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("kiosk list status = %d, want 403", rec.Code)
	}
	rec = doRequest(t, h, http.MethodGet, "/api/transactions", "admin-user", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list status = %d", rec.Code)
	}
	if items := decodeData(t, rec)["items"].([]interface{}); len(items) != 1 {
		t.Fatalf("got %d transactions, want 1", len(items))
	}

	rec = doRequest(t, h, http.MethodGet, "/api/tx/unknown", "kiosk-user", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing tx status = %d, want 404", rec.Code)
	}
}

func seedTx(t *testing.T, store *memory.Store, ctx context.Context, redistributionID, txid string) {
	t.Helper()
	_, err := store.CreateTransaction(ctx, ledgertx.Transaction{
		CommandID:        "cmd-seed",
		RedistributionID: redistributionID,
		TxID:             txid,
		Chain:            "algorand",
		ChainID:          "testnet",
		BlockchainRef:    chain.Reference("algorand", "testnet", txid),
		Status:           ledgertx.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}
