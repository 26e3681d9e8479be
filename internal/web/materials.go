package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/local/notesync/internal/blob"
	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/filetype"
	"github.com/local/notesync/internal/notify"
	"github.com/local/notesync/internal/pageasset"
)

var sniff = filetype.New()

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	courseID, week, ok := weekParam(w, r)
	if !ok {
		return
	}
	userID, ok := requester(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	user, err := s.deps.Directory.User(ctx, userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}
	course, err := s.deps.Directory.Course(ctx, courseID)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load course")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes+(1<<20))
	file, header, err := r.FormFile("file")
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.deps.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if int64(len(data)) > s.deps.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if err := sniff.RequirePDF(data); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, "only PDF files can be uploaded")
		return
	}
	doc, err := s.deps.PDF.Open(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "unreadable PDF")
		return
	}

	id := uuid.NewString()
	filename := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	m := &directory.Material{
		ID:         id,
		CourseID:   courseID,
		Week:       week,
		UploaderID: user.ID,
		Filename:   filename,
		PageCount:  doc.PageCount(),
	}
	if user.Role == directory.RoleProfessor && course.ProfessorID == user.ID {
		m.Kind = directory.KindReference
		m.BlobKey = blob.ReferenceKey(courseID, week, id+".pdf")
	} else {
		m.Kind = directory.KindPeer
		m.BlobKey = blob.PeerKey(user.ID, courseID, week, id+".pdf")
	}

	if err := s.deps.Store.Put(ctx, m.BlobKey, data, filetype.MIMEPDF); err != nil {
		s.logger.Error().Err(err).Str("key", m.BlobKey).Msg("failed to store upload")
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := s.deps.Directory.CreateMaterial(ctx, m); err != nil {
		_ = s.deps.Store.Delete(ctx, m.BlobKey)
		s.logger.Error().Err(err).Str("material_id", id).Msg("failed to record upload")
		writeError(w, http.StatusInternalServerError, "failed to record upload")
		return
	}

	if m.Kind == directory.KindPeer && s.deps.Notifier != nil {
		mates, err := s.deps.Directory.Classmates(ctx, courseID, user.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("course_id", courseID).Msg("failed to list classmates")
		}
		msg := notify.UploadMessage(course.Name, week, user.Name)
		for _, mate := range mates {
			s.deps.Notifier.Enqueue(ctx, notify.Notification{UserID: mate, Type: directory.NotificationUpload, Message: msg, RelatedID: id})
		}
	}

	s.logger.Info().Str("material_id", id).Str("kind", string(m.Kind)).Int("pages", m.PageCount).Msg("material uploaded")
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "material": m})
}

func (s *Server) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	courseID, week, ok := weekParam(w, r)
	if !ok {
		return
	}
	list, err := s.deps.Directory.ListMaterials(r.Context(), courseID, week)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list materials")
		return
	}
	if list == nil {
		list = []directory.Material{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "materials": list})
}

func (s *Server) material(w http.ResponseWriter, r *http.Request) (*directory.Material, bool) {
	m, err := s.deps.Directory.Material(r.Context(), r.PathValue("id"))
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "material not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load material")
		return nil, false
	}
	return m, true
}

type pageLink struct {
	Page int    `json:"page"`
	URL  string `json:"url"`
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	m, ok := s.material(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	refs, err := s.deps.Pages.Rasterize(ctx, pageasset.Document{ID: m.ID, Key: m.BlobKey})
	if err != nil {
		s.writeRasterError(w, err)
		return
	}
	if err := s.deps.Directory.IncrementViews(ctx, m.ID); err != nil {
		s.logger.Warn().Err(err).Str("material_id", m.ID).Msg("failed to count view")
	}

	signer, canSign := s.deps.Store.(blob.URLSigner)
	links := make([]pageLink, 0, len(refs))
	for _, ref := range refs {
		link := pageLink{Page: ref.Page, URL: fmt.Sprintf("/materials/%s/pages/%d", m.ID, ref.Page)}
		if canSign && s.deps.SignedURLTTL > 0 {
			if u, err := signer.SignedURL(ctx, ref.Key, s.deps.SignedURLTTL); err == nil {
				link.URL = u
			} else {
				s.logger.Warn().Err(err).Str("key", ref.Key).Msg("failed to sign page url")
			}
		}
		links = append(links, link)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "material_id": m.ID, "page_count": len(refs), "pages": links})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	m, ok := s.material(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	img, err := s.deps.Pages.Page(r.Context(), pageasset.Document{ID: m.ID, Key: m.BlobKey}, n)
	if err != nil {
		s.writeRasterError(w, err)
		return
	}
	w.Header().Set("Content-Type", filetype.MIMEJPEG)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(img)
}

func (s *Server) writeRasterError(w http.ResponseWriter, err error) {
	var rf *pageasset.RasterizationFailure
	switch {
	case errors.As(err, &rf):
		s.logger.Warn().Err(err).Str("document_id", rf.DocumentID).Msg("rasterization failed")
		writeError(w, http.StatusUnprocessableEntity, "document cannot be rendered")
	case errors.Is(err, blob.ErrNotFound):
		writeError(w, http.StatusNotFound, "page not found")
	default:
		writeError(w, http.StatusInternalServerError, "failed to load page")
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	m, ok := s.material(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	data, err := s.deps.Store.Get(ctx, m.BlobKey)
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "file missing")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load file")
		return
	}
	if err := s.deps.Directory.IncrementDownloads(ctx, m.ID); err != nil {
		s.logger.Warn().Err(err).Str("material_id", m.ID).Msg("failed to count download")
	}
	name := m.Filename
	if name == "" {
		name = m.ID + ".pdf"
	}
	w.Header().Set("Content-Type", filetype.MIMEPDF)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}
