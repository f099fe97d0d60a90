package server

import (
	"net/http"

	"github.com/go-go-golems/forkchat/pkg/conversation"
)

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListConversations(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversationList{Conversations: list})
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := s.service.CreateConversation(r.Context(), req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	structure, err := s.service.GetConversationStructure(r.Context(), cid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, structure)
}

func (s *Server) deleteConversation(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	if err := s.service.DeleteConversation(r.Context(), cid); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getActivePath(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	path, err := s.service.GetActivePath(r.Context(), cid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if path == nil {
		path = conversation.Thread{}
	}
	writeJSON(w, http.StatusOK, ActivePathResponse{Messages: path})
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	var req AddMessageRequest
	if !decode(w, r, &req) {
		return
	}
	role, err := conversation.ParseRole(req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.Message, error) {
		return s.service.AddMessage(r.Context(), cid, req.ParentID, role, req.Content)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) editMessage(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	mid, ok := pathID(w, r, "mid")
	if !ok {
		return
	}
	var req EditMessageRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.EditResult, error) {
		return s.service.EditMessage(r.Context(), cid, mid, req.Content)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	mid, ok := pathID(w, r, "mid")
	if !ok {
		return
	}
	var req RegenerateRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.Message, error) {
		return s.service.Regenerate(r.Context(), cid, mid, req.Content)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	mid, ok := pathID(w, r, "mid")
	if !ok {
		return
	}
	m, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.Message, error) {
		return s.service.Reply(r.Context(), cid, mid)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) versions(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	mid, ok := pathID(w, r, "mid")
	if !ok {
		return
	}
	v, err := s.service.GetSiblingVersions(r.Context(), cid, mid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) selectVersion(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	mid, ok := pathID(w, r, "mid")
	if !ok {
		return
	}
	b, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.Branch, error) {
		return s.service.SelectVersion(r.Context(), cid, mid)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) listBranches(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	branches, err := s.service.ListBranches(r.Context(), cid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BranchList{Branches: branches})
}

func (s *Server) fork(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	var req ForkRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.Branch, error) {
		return s.service.Fork(r.Context(), cid, req.FromMessageID, req.Name)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) activateBranch(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	bid, ok := pathID(w, r, "bid")
	if !ok {
		return
	}
	b, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.Branch, error) {
		return s.service.ActivateBranch(r.Context(), cid, bid)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) renameBranch(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	bid, ok := pathID(w, r, "bid")
	if !ok {
		return
	}
	var req RenameBranchRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := retryOnConflict(r.Context(), s.retry, func() (*conversation.Branch, error) {
		return s.service.RenameBranch(r.Context(), cid, bid, req.Name)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBranch(w http.ResponseWriter, r *http.Request) {
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	bid, ok := pathID(w, r, "bid")
	if !ok {
		return
	}
	removed, err := retryOnConflict(r.Context(), s.retry, func() ([]conversation.ID, error) {
		return s.service.DeleteBranch(r.Context(), cid, bid)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if removed == nil {
		removed = []conversation.ID{}
	}
	writeJSON(w, http.StatusOK, DeleteBranchResponse{RemovedIDs: removed})
}
