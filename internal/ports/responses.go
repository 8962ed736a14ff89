package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Amund211/weakcache/internal/adapters/cache"
	"github.com/Amund211/weakcache/internal/domain"
	"github.com/Amund211/weakcache/internal/reporting"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Cause   string `json:"cause"`
}

type resourceResponse struct {
	Key        string    `json:"key"`
	Generation int64     `json:"generation"`
	CreatedAt  time.Time `json:"createdAt"`
	Digest     string    `json:"digest"`
	SizeBytes  int       `json:"sizeBytes"`
}

type entryResponse struct {
	Key          string    `json:"key"`
	LastAccessed time.Time `json:"lastAccessed"`
	StrongHeld   bool      `json:"strongHeld"`
	Alive        bool      `json:"alive"`
}

type entriesResponse struct {
	Success bool            `json:"success"`
	Entries []entryResponse `json:"entries"`
}

type getResourceResponse struct {
	Success  bool             `json:"success"`
	Resource resourceResponse `json:"resource"`
}

type deleteEntryResponse struct {
	Success   bool `json:"success"`
	Scheduled bool `json:"scheduled"`
}

func resourceToResponse(resource *domain.Resource) resourceResponse {
	return resourceResponse{
		Key:        resource.Key,
		Generation: resource.Generation,
		CreatedAt:  resource.CreatedAt,
		Digest:     resource.Digest,
		SizeBytes:  resource.SizeBytes(),
	}
}

func entriesToResponse(states []cache.EntryState) entriesResponse {
	entries := make([]entryResponse, 0, len(states))
	for _, state := range states {
		entries = append(entries, entryResponse{
			Key:          state.Key,
			LastAccessed: state.LastAccessed.UTC(),
			StrongHeld:   state.StrongHeld,
			Alive:        state.Alive,
		})
	}
	return entriesResponse{Success: true, Entries: entries}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"cause":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(data)
}

func writeError(ctx context.Context, w http.ResponseWriter, statusCode int, cause string) {
	writeJSON(ctx, w, statusCode, errorResponse{Success: false, Cause: cause})
}

func onLimitExceeded(w http.ResponseWriter, r *http.Request) {
	writeError(r.Context(), w, http.StatusTooManyRequests, "rate limit exceeded")
}
