// Package custompdf turns a student's page picks into a stored composite PDF
// with per-page provenance.
package custompdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/local/notesync/internal/assembler"
	"github.com/local/notesync/internal/blob"
	"github.com/local/notesync/internal/directory"
	"github.com/local/notesync/internal/filetype"
)

var (
	ErrForbidden      = errors.New("custom pdf belongs to another student")
	ErrNotFound       = errors.New("custom pdf not found")
	ErrCourseNotFound = errors.New("course not found")
)

// Directory is the persistence the service relies on.
type Directory interface {
	Course(ctx context.Context, id string) (*directory.Course, error)
	User(ctx context.Context, id string) (*directory.User, error)
	Material(ctx context.Context, id string) (*directory.Material, error)
	RecordPageCount(ctx context.Context, id string, pages int) error
	CreateCustomPDF(ctx context.Context, c *directory.CustomPDF) error
	CustomPDF(ctx context.Context, id string) (*directory.CustomPDF, error)
	ListCustomPDFs(ctx context.Context, studentID string) ([]directory.CustomPDF, error)
}

// Request asks for one composite. Selections are checked by the assembler, not here:
// bad picks are dropped rather than rejected.
type Request struct {
	StudentID  string                `json:"student_id" validate:"required,max=64"`
	CourseID   string                `json:"course_id" validate:"required,max=64"`
	Week       int                   `json:"week" validate:"gte=0"`
	Title      string                `json:"title" validate:"max=255"`
	Selections []assembler.Selection `json:"selected_pages"`
}

// Created is the stored record plus what the assembler dropped.
type Created struct {
	CustomPDF *directory.CustomPDF `json:"custom_pdf"`
	Skipped   []assembler.Skip     `json:"skipped"`
}

type Service struct {
	dir      Directory
	store    blob.Store
	engine   assembler.Engine
	validate *validator.Validate
	sniff    *filetype.Detector
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(dir Directory, store blob.Store, engine assembler.Engine, validate *validator.Validate, logger zerolog.Logger) *Service {
	if validate == nil {
		validate = validator.New()
	}
	return &Service{
		dir:      dir,
		store:    store,
		engine:   engine,
		validate: validate,
		sniff:    filetype.New(),
		logger:   logger.With().Str("component", "custompdf").Logger(),
		now:      time.Now,
	}
}

// Create assembles the selections in order, stores the result and records
// where each output page came from. assembler.ErrNoValidPages is returned
// unchanged when nothing survives.
func (s *Service) Create(ctx context.Context, req Request) (*Created, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	course, err := s.dir.Course(ctx, req.CourseID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load course: %w", err)
	}

	asm := assembler.New(&courseSources{dir: s.dir, courseID: req.CourseID}, s.store, s.engine)
	res, err := asm.Assemble(ctx, req.Selections)
	if err != nil {
		return nil, err
	}
	if err := s.sniff.RequirePDF(res.PDF); err != nil {
		return nil, fmt.Errorf("assembled output: %w", err)
	}

	id := uuid.NewString()
	key := blob.CustomKey(req.StudentID, id)
	if err := s.store.Put(ctx, key, res.PDF, filetype.MIMEPDF); err != nil {
		return nil, fmt.Errorf("store custom pdf: %w", err)
	}

	title := req.Title
	if title == "" {
		title = s.defaultTitle(ctx, req.StudentID, course.Name, req.Week)
	}
	row := &directory.CustomPDF{
		ID:        id,
		StudentID: req.StudentID,
		CourseID:  req.CourseID,
		Week:      req.Week,
		Title:     title,
		BlobKey:   key,
		PageCount: len(res.Pages),
		Pages:     make([]directory.CustomPDFPage, 0, len(res.Pages)),
	}
	for _, p := range res.Pages {
		row.Pages = append(row.Pages, directory.CustomPDFPage{
			OrderIndex: p.OutputPage - 1,
			MaterialID: p.MaterialID,
			SourcePage: p.SourcePage,
		})
	}
	if err := s.dir.CreateCustomPDF(ctx, row); err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if derr := s.store.Delete(cctx, key); derr != nil {
			s.logger.Warn().Err(derr).Str("key", key).Msg("failed to remove orphaned custom pdf")
		}
		return nil, fmt.Errorf("record custom pdf: %w", err)
	}

	s.logger.Info().
		Str("custom_pdf_id", id).
		Str("student_id", req.StudentID).
		Int("pages", row.PageCount).
		Int("skipped", len(res.Skipped)).
		Msg("custom pdf created")
	skipped := res.Skipped
	if skipped == nil {
		skipped = []assembler.Skip{}
	}
	return &Created{CustomPDF: row, Skipped: skipped}, nil
}

func (s *Service) defaultTitle(ctx context.Context, studentID, courseName string, week int) string {
	name := studentID
	if u, err := s.dir.User(ctx, studentID); err == nil && u.Name != "" {
		name = u.Name
	}
	return fmt.Sprintf("%s_custom_%s_week%d.pdf", name, courseName, week)
}

// Get returns the record if requester owns it.
func (s *Service) Get(ctx context.Context, id, requester string) (*directory.CustomPDF, error) {
	c, err := s.dir.CustomPDF(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.StudentID != requester {
		return nil, ErrForbidden
	}
	return c, nil
}

// Download returns the stored bytes of an owned composite.
func (s *Service) Download(ctx context.Context, id, requester string) (*directory.CustomPDF, []byte, error) {
	c, err := s.Get(ctx, id, requester)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.store.Get(ctx, c.BlobKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load custom pdf: %w", err)
	}
	return c, data, nil
}

func (s *Service) List(ctx context.Context, studentID string) ([]directory.CustomPDF, error) {
	out, err := s.dir.ListCustomPDFs(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []directory.CustomPDF{}
	}
	return out, nil
}

// courseSources resolves only materials of one course.
type courseSources struct {
	dir      Directory
	courseID string
}

func (c *courseSources) Source(ctx context.Context, id string) (assembler.Source, error) {
	m, err := c.dir.Material(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return assembler.Source{}, fmt.Errorf("%w: %s", assembler.ErrUnknownSource, id)
	}
	if err != nil {
		return assembler.Source{}, err
	}
	if m.CourseID != c.courseID {
		return assembler.Source{}, fmt.Errorf("%w: %s is not in course %s", assembler.ErrUnknownSource, id, c.courseID)
	}
	return assembler.Source{ID: m.ID, Key: m.BlobKey, PageCount: m.PageCount}, nil
}

func (c *courseSources) RecordPageCount(ctx context.Context, id string, pages int) error {
	return c.dir.RecordPageCount(ctx, id, pages)
}
