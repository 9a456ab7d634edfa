package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ciec-now/ciecnow/internal/platform/httpx"
	"github.com/ciec-now/ciecnow/internal/platform/token"
)

// EdgePath is the route of the permission-resolution edge function.
const EdgePath = "/functions/v1/get-user-permissions"

const edgeTokenTTL = time.Minute

// EdgeResponse is the payload returned by the edge function.
type EdgeResponse struct {
	Permissions []string `json:"permissions"`
}

// EdgeClient calls the permission-resolution edge function over HTTP.
type EdgeClient struct {
	baseURL    string
	tokens     *token.Manager
	httpClient *http.Client
}

// NewEdgeClient constructs a client for baseURL.
func NewEdgeClient(baseURL string, tokens *token.Manager, timeout time.Duration) *EdgeClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &EdgeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ResolvePermissions asks the edge function for the actor's capability strings.
func (c *EdgeClient) ResolvePermissions(ctx context.Context, actor Actor) ([]string, error) {
	bearer, err := c.tokens.Issue(actor.UserID, token.PurposeEdge, edgeTokenTTL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EdgePath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("access: edge call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("access: edge returned status %d", resp.StatusCode)
	}
	var payload EdgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("access: decode edge response: %w", err)
	}
	if payload.Permissions == nil {
		return nil, errors.New("access: edge response missing permissions")
	}
	return payload.Permissions, nil
}

var _ Remote = (*EdgeClient)(nil)

// EdgeHandler serves the permission-resolution edge function.
type EdgeHandler struct {
	store  Store
	tokens *token.Manager
	logger *slog.Logger
}

// NewEdgeHandler builds the edge endpoint.
func NewEdgeHandler(store Store, tokens *token.Manager, logger *slog.Logger) *EdgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeHandler{store: store, tokens: tokens, logger: logger}
}

// ServeHTTP resolves the bearer's permissions.
func (h *EdgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	claims, err := h.tokens.Parse(raw, token.PurposeEdge)
	if err != nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	actor, err := h.store.ActorByUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		h.logger.Error("edge actor lookup", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	perms, err := StorePermissions(r.Context(), h.store, actor)
	if err != nil {
		h.logger.Error("edge permission lookup", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	httpx.JSON(w, http.StatusOK, EdgeResponse{Permissions: perms})
}
