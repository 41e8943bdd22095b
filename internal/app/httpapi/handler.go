// Package httpapi exposes the redistribution REST API.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	app "github.com/akta-mmi/redistribution_core/internal/app"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/ledgertx"
	"github.com/akta-mmi/redistribution_core/internal/app/domain/redistribution"
	"github.com/akta-mmi/redistribution_core/internal/app/services/redistributions"
	"github.com/akta-mmi/redistribution_core/internal/app/storage"
	"github.com/akta-mmi/redistribution_core/internal/errors"
	"github.com/akta-mmi/redistribution_core/internal/middleware"
	"github.com/akta-mmi/redistribution_core/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// apiResponse is the uniform envelope every endpoint returns.
type apiResponse struct {
	Status string        `json:"status"`
	Data   interface{}   `json:"data,omitempty"`
	Error  *errors.Error `json:"error,omitempty"`
}

// listPage wraps list results with paging echo.
type listPage struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

type handler struct {
	app  *app.Application
	db   *sql.DB
	demo bool
	log  *logger.Logger
}

// NewHandler returns a router exposing the redistribution REST API. db may be
// nil when the process runs against the in-memory store.
func NewHandler(application *app.Application, db *sql.DB, demo bool, log *logger.Logger) *mux.Router {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, db: db, demo: demo, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.health).Methods(http.MethodGet)
	api.HandleFunc("/redistributions", h.createRedistribution).Methods(http.MethodPost)
	api.HandleFunc("/redistributions", h.listRedistributions).Methods(http.MethodGet)
	api.HandleFunc("/redistributions/{id}", h.getRedistribution).Methods(http.MethodGet)
	api.HandleFunc("/redistributions/{id}/approve", h.approveRedistribution).Methods(http.MethodPost)
	api.HandleFunc("/commands/{id}", h.getCommand).Methods(http.MethodGet)
	api.HandleFunc("/tx/{txid}", h.getTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions", h.listTransactions).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	} else {
		dbStatus = "in-memory"
	}

	adapter := h.app.Adapter()
	writeJSON(w, http.StatusOK, apiResponse{
		Status: "ok",
		Data: map[string]interface{}{
			"service":    "redistribution-core",
			"version":    "1.0.0",
			"database":   dbStatus,
			"blockchain": adapter.Name() + ":" + adapter.ChainID(),
			"demo_mode":  h.demo,
			"system":     systemStats(),
		},
	})
}

func systemStats() map[string]interface{} {
	stats := map[string]interface{}{}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_used_percent"] = vm.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		stats["load_1m"] = avg.Load1
	}
	return stats
}

type createRedistributionRequest struct {
	FromKioskID string                `json:"from_kiosk_id"`
	ToKioskID   string                `json:"to_kiosk_id"`
	Items       []redistribution.Item `json:"items"`
	ClientReqID string                `json:"client_req_id"`
	Signature   string                `json:"signature,omitempty"`
	PublicKey   string                `json:"public_key,omitempty"`
}

func (h *handler) createRedistribution(w http.ResponseWriter, r *http.Request) {
	var req createRedistributionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	created, err := h.app.Redistributions.Create(r.Context(), middleware.GetUserID(r.Context()), redistributions.CreateInput{
		FromKioskID: req.FromKioskID,
		ToKioskID:   req.ToKioskID,
		Items:       req.Items,
		ClientReqID: req.ClientReqID,
		Signature:   req.Signature,
		PublicKey:   req.PublicKey,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: created})
}

type approveRedistributionRequest struct {
	AdminWallet string `json:"admin_wallet"`
	ClientReqID string `json:"client_req_id,omitempty"`
}

func (h *handler) approveRedistribution(w http.ResponseWriter, r *http.Request) {
	var req approveRedistributionRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	result, err := h.app.Redistributions.Approve(
		r.Context(),
		middleware.GetUserID(r.Context()),
		mux.Vars(r)["id"],
		redistributions.ApproveInput{AdminWallet: req.AdminWallet, ClientReqID: req.ClientReqID},
	)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: result})
}

func (h *handler) getRedistribution(w http.ResponseWriter, r *http.Request) {
	red, err := h.app.Redistributions.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: red})
}

func (h *handler) listRedistributions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paging(q.Get("limit"), q.Get("offset"))

	items, err := h.app.Redistributions.List(r.Context(), storage.RedistributionFilter{
		Status:      q.Get("status"),
		FromKioskID: q.Get("from_kiosk_id"),
		ToKioskID:   q.Get("to_kiosk_id"),
	}, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: listPage{
		Items:  items,
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	}})
}

func (h *handler) getCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.app.Redistributions.Command(r.Context(), middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: cmd})
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]
	tx, err := h.app.Redistributions.Transaction(r.Context(), txid)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: map[string]interface{}{
		"transaction":  tx,
		"explorer_url": explorerURL(tx),
	}})
}

func (h *handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := paging(q.Get("limit"), q.Get("offset"))

	items, err := h.app.Redistributions.Transactions(r.Context(), middleware.GetUserID(r.Context()), ledgertx.Filter{
		Status:           q.Get("status"),
		RedistributionID: q.Get("redistribution_id"),
	}, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Status: "ok", Data: listPage{
		Items:  items,
		Total:  len(items),
		Limit:  limit,
		Offset: offset,
	}})
}

// explorerURL links a transaction to the public block explorer. Demo txids
// have no on-chain record to link to.
func explorerURL(tx ledgertx.Transaction) string {
	if tx.Chain != "algorand" {
		return ""
	}
	base := "https://algoexplorer.io"
	if tx.ChainID == "testnet" {
		base = "https://testnet.algoexplorer.io"
	}
	return base + "/tx/" + tx.TxID
}

func paging(rawLimit, rawOffset string) (int, int) {
	limit := defaultPageSize
	if v, err := strconv.Atoi(rawLimit); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := 0
	if v, err := strconv.Atoi(rawOffset); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err *errors.Error) {
	writeJSON(w, err.Status, apiResponse{Status: "error", Error: err})
}

func (h *handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	coded := errors.FromError(err)
	if coded.Status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, coded)
}
