package http

import (
	"time"

	"saldo/internal/core"
)

type groupRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Members     []string `json:"members" validate:"required,min=1,dive,required,max=100"`
}

type userRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=100"`
}

type groupResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Members     []string  `json:"members"`
	Total       string    `json:"total"`
	CreatedAt   time.Time `json:"createdAt"`
}

func newGroupResponse(g core.Group) groupResponse {
	members := g.Members
	if members == nil {
		members = []string{}
	}
	return groupResponse{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Members:     members,
		Total:       g.Total.StringFixed(2),
		CreatedAt:   g.CreatedAt,
	}
}

type debtResponse struct {
	Debtor   string `json:"debtor"`
	Creditor string `json:"creditor"`
	Amount   string `json:"amount"`
}

type expenseResponse struct {
	ID            string         `json:"id"`
	GroupID       string         `json:"groupId"`
	Description   string         `json:"description"`
	Amount        string         `json:"amount"`
	Payer         string         `json:"payer,omitempty"`
	Participants  []string       `json:"participants"`
	ExplicitDebts []debtResponse `json:"explicitDebts,omitempty"`
	PhotoURL      string         `json:"photoUrl,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

func newExpenseResponse(e core.Expense) expenseResponse {
	participants := e.Participants
	if participants == nil {
		participants = []string{}
	}
	resp := expenseResponse{
		ID:           e.ID,
		GroupID:      e.GroupID,
		Description:  e.Description,
		Amount:       e.Amount.StringFixed(2),
		Payer:        e.Payer,
		Participants: participants,
		PhotoURL:     e.PhotoURL,
		CreatedAt:    e.CreatedAt,
	}
	for _, d := range e.ExplicitDebts {
		resp.ExplicitDebts = append(resp.ExplicitDebts, debtResponse{
			Debtor:   d.Debtor,
			Creditor: d.Creditor,
			Amount:   d.Amount.StringFixed(2),
		})
	}
	return resp
}
