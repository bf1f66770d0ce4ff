package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"saldo/internal/core"
	applog "saldo/internal/log"
	"saldo/internal/services"
)

func (in groupRequest) input() services.GroupInput {
	return services.GroupInput{Name: in.Name, Description: in.Description, Members: in.Members}
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		FromError(r, err).Write(w)
		return
	}
	g, err := s.groups.CreateGroup(r.Context(), req.input())
	if err != nil {
		FromError(r, err).Write(w)
		return
	}

	applog.FromContext(r.Context()).WithComponent(applog.ComponentGroup).InfoContext(r.Context(), "Group created",
		applog.FieldGroupID, g.ID,
		"members", len(g.Members))
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/groups/"+g.ID).
		Body(newGroupResponse(g)).
		Write(w)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.ListGroups(r.Context(), userParam(r))
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	out := make([]groupResponse, 0, len(groups))
	for _, g := range groups {
		out = append(out, newGroupResponse(g))
	}
	NewJSONResponse().Body(out).Write(w)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := s.groups.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	NewJSONResponse().Body(newGroupResponse(g)).Write(w)
}

func (s *Server) handleUpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		FromError(r, err).Write(w)
		return
	}
	g, err := s.groups.UpdateGroup(r.Context(), chi.URLParam(r, "groupID"), req.input())
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	NewJSONResponse().Body(newGroupResponse(g)).Write(w)
}

func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	if err := s.groups.DeleteGroup(r.Context(), groupID); err != nil {
		FromError(r, err).Write(w)
		return
	}
	applog.FromContext(r.Context()).WithComponent(applog.ComponentGroup).InfoContext(r.Context(), "Group deleted",
		applog.FieldGroupID, groupID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleUpsertUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		FromError(r, err).Write(w)
		return
	}
	u, err := s.users.UpsertUser(r.Context(), core.User{
		ID:          chi.URLParam(r, "userID"),
		DisplayName: req.DisplayName,
	})
	if err != nil {
		FromError(r, err).Write(w)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "User saved", applog.FieldUserID, u.ID)
	NewJSONResponse().Body(map[string]string{
		"userId":      u.ID,
		"displayName": u.DisplayName,
	}).Write(w)
}
