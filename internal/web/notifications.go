package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/local/notesync/internal/directory"
)

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	if userID != r.PathValue("id") {
		writeError(w, http.StatusForbidden, "can only read your own notifications")
		return
	}
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	list, err := s.deps.Directory.ListNotifications(r.Context(), userID, unread)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	if list == nil {
		list = []directory.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "notifications": list})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	if userID != r.PathValue("id") {
		writeError(w, http.StatusForbidden, "can only update your own notifications")
		return
	}
	nid, err := strconv.ParseUint(r.PathValue("nid"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid notification id")
		return
	}
	err = s.deps.Directory.MarkNotificationRead(r.Context(), userID, uint(nid))
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
