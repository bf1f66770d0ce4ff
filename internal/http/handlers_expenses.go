package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	applog "saldo/internal/log"
)

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.expenses.ListExpenses(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, newExpenseResponse(e))
	}
	NewJSONResponse().Body(out).Write(w)
}

// handleCreateExpense accepts the same loose document shape the broker and
// older clients send; core.ParseExpenseDocument normalizes it.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocument(w, r)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	groupID := chi.URLParam(r, "groupID")
	e, err := s.expenses.CreateFromDocument(r.Context(), groupID, doc)
	if err != nil {
		FromError(r, err).Write(w)
		return
	}

	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentExpense)
	logger.InfoContext(r.Context(), "Expense created",
		applog.NewFields().
			WithOperation(applog.OpCreate).
			WithExpense(groupID, e.ID, e.Amount.String()).
			ToSlice()...)
	NewJSONResponse().
		Status(http.StatusCreated).
		Body(newExpenseResponse(e)).
		Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	expenseID := chi.URLParam(r, "expenseID")
	if err := s.expenses.DeleteExpense(r.Context(), groupID, expenseID); err != nil {
		FromError(r, err).Write(w)
		return
	}

	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentExpense)
	logger.InfoContext(r.Context(), "Expense deleted",
		applog.NewFields().
			WithOperation(applog.OpDelete).
			WithExpense(groupID, expenseID, "").
			ToSlice()...)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
