package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"saldo/internal/feed"
	"saldo/internal/ledger"
	applog "saldo/internal/log"
)

type balancesResponse struct {
	Scope string       `json:"scope"`
	Rows  []ledger.Row `json:"rows"`
}

func newBalancesResponse(scope feed.Scope, report ledger.Report) balancesResponse {
	rows := report.Rows
	if rows == nil {
		rows = []ledger.Row{}
	}
	return balancesResponse{Scope: scope.String(), Rows: rows}
}

// handleBalances returns the global table, or with ?user= the table over
// that user's groups only.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	scope := feed.Scope{UserID: userParam(r)}
	report, err := s.balances.Balances(r.Context(), scope)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	NewJSONResponse().Body(newBalancesResponse(scope, report)).Write(w)
}

// handleBalanceOf returns one user's balance. ?scope=groups restricts the
// computation to the user's own groups; the default is global.
func (s *Server) handleBalanceOf(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var scope feed.Scope
	switch strings.TrimSpace(r.URL.Query().Get("scope")) {
	case "", "global":
	case "groups":
		scope.UserID = userID
	default:
		BadRequestError("scope must be 'global' or 'groups'").Write(w)
		return
	}

	bal, err := s.balances.BalanceOf(r.Context(), scope, userID)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	NewJSONResponse().Body(bal).Write(w)
}

type streamEvent struct {
	name string
	data any
}

// handleBalanceStream sends a "balances" event for every published report
// and an "error" event when a recomputation fails, so a client never
// mistakes a failure for an empty table. Only the newest pending event is
// kept for a slow client.
func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		InternalServerError("streaming not supported").Write(w)
		return
	}

	ctx := r.Context()
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentFeed)
	scope := feed.Scope{UserID: userParam(r)}

	events := make(chan streamEvent, 1)
	offer := func(ev streamEvent) {
		select {
		case <-events:
		default:
		}
		events <- ev
	}

	sub := s.balances.Watch(scope,
		func(report ledger.Report) {
			offer(streamEvent{name: "balances", data: newBalancesResponse(scope, report)})
		},
		func(err error) {
			logger.WarnContext(ctx, "Balance stream recompute failed", applog.FieldError, err, applog.FieldScope, scope.String())
			offer(streamEvent{name: "error", data: errorBody{Error: "balances unavailable"}})
		})
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger.InfoContext(ctx, "Balance stream opened", applog.FieldScope, scope.String())
	defer logger.InfoContext(ctx, "Balance stream closed", applog.FieldScope, scope.String())

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-events:
			if err := writeEvent(w, ev); err != nil {
				logger.DebugContext(ctx, "Balance stream write failed", applog.FieldError, err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev streamEvent) error {
	data, err := json.Marshal(ev.data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, data)
	return err
}
