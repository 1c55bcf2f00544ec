package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// NewServer creates an HTTP server with all routes configured. Write
// endpoints require the admin key when one is set.
func NewServer(port string, handler *Handler, adminAPIKey string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewMux(handler, adminAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers the API routes.
func NewMux(handler *Handler, adminAPIKey string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/assets", handler.ListAssets)
	mux.HandleFunc("GET /api/v1/assets/{asset}", handler.GetAsset)
	mux.HandleFunc("GET /api/v1/assets/{asset}/dynamic", handler.GetDynamicData)
	mux.HandleFunc("GET /api/v1/assets/{asset}/bitasset", handler.GetBitasset)
	mux.HandleFunc("GET /api/v1/assets/{asset}/settlement-budget", handler.GetSettlementBudget)
	mux.HandleFunc("GET /api/v1/assets/{asset}/dividend", handler.GetDividendData)
	mux.HandleFunc("GET /api/v1/issuers/{account}/assets", handler.ListIssuerAssets)

	protect := func(h http.HandlerFunc) http.Handler {
		if adminAPIKey == "" {
			return h
		}
		return requireAuth(adminAPIKey, h)
	}
	mux.Handle("POST /api/v1/assets", protect(handler.CreateAsset))
	mux.Handle("POST /api/v1/assets/{asset}/issue", protect(handler.IssueAsset))
	mux.Handle("POST /api/v1/assets/{asset}/feeds", protect(handler.PublishFeed))
	mux.Handle("POST /api/v1/assets/{asset}/global-settle", protect(handler.GlobalSettle))
	mux.Handle("POST /api/v1/assets/{asset}/force-settle", protect(handler.ForceSettle))
	mux.Handle("DELETE /api/v1/assets/{asset}", protect(handler.DeleteAsset))

	if handler.dividends != nil {
		mux.Handle("PUT /api/v1/assets/{asset}/dividend", protect(handler.UpdateDividendOptions))
		mux.Handle("POST /api/v1/assets/{asset}/dividend/balances", protect(handler.RecordDividendBalance))
	}

	if handler.external != nil {
		mux.Handle("PUT /api/v1/external/collateral/{asset}", protect(handler.SetCollateral))
		mux.Handle("PUT /api/v1/external/balances/{account}/{asset}", protect(handler.SetBalance))
	}
	if handler.maintenance != nil {
		mux.Handle("POST /api/v1/maintenance", protect(handler.RunMaintenance))
	}
	if handler.snapshots != nil {
		mux.HandleFunc("GET /api/v1/snapshots/latest", handler.GetLatestSnapshot)
		mux.HandleFunc("GET /api/v1/snapshots", handler.ListSnapshots)
	}
	return mux
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
