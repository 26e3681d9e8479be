package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Repository is the relational directory of users, courses, weeks, materials,
// composite PDFs and notifications.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// DB exposes the handle for readiness checks.
func (r *Repository) DB() *gorm.DB { return r.db }

func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *Repository) User(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *Repository) CreateCourse(ctx context.Context, c *Course) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repository) Course(ctx context.Context, id string) (*Course, error) {
	var c Course
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repository) Enroll(ctx context.Context, courseID, studentID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&Enrollment{CourseID: courseID, StudentID: studentID}).Error
}

// Classmates lists students enrolled in the course, excluding one id.
func (r *Repository) Classmates(ctx context.Context, courseID, exclude string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&Enrollment{}).
		Where("course_id = ? AND student_id <> ?", courseID, exclude).
		Order("student_id").
		Pluck("student_id", &ids).Error
	return ids, err
}

func (r *Repository) CreateMaterial(ctx context.Context, m *Material) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repository) Material(ctx context.Context, id string) (*Material, error) {
	var m Material
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListMaterials returns every material of a week, reference first, then by upload time.
func (r *Repository) ListMaterials(ctx context.Context, courseID string, week int) ([]Material, error) {
	var out []Material
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND week = ?", courseID, week).
		Order("kind DESC, created_at, id").
		Find(&out).Error
	return out, err
}

// ListPeerMaterials returns the peer submissions of a week.
func (r *Repository) ListPeerMaterials(ctx context.Context, courseID string, week int) ([]Material, error) {
	var out []Material
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND week = ? AND kind = ?", courseID, week, KindPeer).
		Order("created_at, id").
		Find(&out).Error
	return out, err
}

// ReferenceMaterial returns the professor's copy for the week, if any.
func (r *Repository) ReferenceMaterial(ctx context.Context, courseID string, week int) (*Material, error) {
	var m Material
	err := r.db.WithContext(ctx).
		Where("course_id = ? AND week = ? AND kind = ?", courseID, week, KindReference).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *Repository) RecordPageCount(ctx context.Context, id string, pages int) error {
	return r.db.WithContext(ctx).Model(&Material{}).Where("id = ?", id).Update("page_count", pages).Error
}

func (r *Repository) IncrementDownloads(ctx context.Context, id string) error {
	return r.increment(ctx, id, "download_count")
}

func (r *Repository) IncrementViews(ctx context.Context, id string) error {
	return r.increment(ctx, id, "view_count")
}

func (r *Repository) increment(ctx context.Context, id, column string) error {
	res := r.db.WithContext(ctx).Model(&Material{}).Where("id = ?", id).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWeekDeadline creates or moves a week's deadline. A completed week keeps its status.
func (r *Repository) SetWeekDeadline(ctx context.Context, courseID string, week int, deadline *time.Time) error {
	if deadline != nil {
		d := deadline.UTC()
		deadline = &d
	}
	w := CourseWeek{CourseID: courseID, Week: week, UploadDeadline: deadline, EvaluationStatus: WeekPending}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}, {Name: "week"}},
		DoUpdates: clause.AssignmentColumns([]string{"upload_deadline", "updated_at"}),
	}).Create(&w).Error
}

func (r *Repository) Week(ctx context.Context, courseID string, week int) (*CourseWeek, error) {
	var w CourseWeek
	if err := r.db.WithContext(ctx).First(&w, "course_id = ? AND week = ?", courseID, week).Error; err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// DueWeeks lists pending weeks whose deadline is at or before now.
func (r *Repository) DueWeeks(ctx context.Context, now time.Time) ([]CourseWeek, error) {
	var pending []CourseWeek
	err := r.db.WithContext(ctx).
		Where("evaluation_status = ? AND upload_deadline IS NOT NULL", WeekPending).
		Order("upload_deadline, course_id, week").
		Find(&pending).Error
	if err != nil {
		return nil, err
	}
	// filtered in Go; sqlite keeps timestamps as text
	out := pending[:0]
	for _, w := range pending {
		if !w.UploadDeadline.After(now) {
			out = append(out, w)
		}
	}
	return out, nil
}

// MarkWeekCompleted flips pending to completed and reports whether this call did it.
func (r *Repository) MarkWeekCompleted(ctx context.Context, courseID string, week int) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&CourseWeek{}).
		Where("course_id = ? AND week = ? AND evaluation_status = ?", courseID, week, WeekPending).
		Updates(map[string]interface{}{"evaluation_status": WeekCompleted, "completed_at": now, "updated_at": now})
	return res.RowsAffected > 0, res.Error
}

// SetScoreIfNull stores the score only while none is recorded. It reports
// whether this call wrote it.
func (r *Repository) SetScoreIfNull(ctx context.Context, id string, score float64, summary string) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Model(&Material{}).
		Where("id = ? AND evaluation_score IS NULL", id).
		Updates(map[string]interface{}{
			"evaluation_score":      score,
			"evaluation_completed":  true,
			"evaluation_summary":    summary,
			"evaluated_at":          now,
			"last_evaluation_error": "",
		})
	if res.Error != nil {
		return false, fmt.Errorf("set score: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RecordEvaluationFailure bumps the attempt counter of an unscored material and returns the new count.
func (r *Repository) RecordEvaluationFailure(ctx context.Context, id, reason string) (int, error) {
	err := r.db.WithContext(ctx).Model(&Material{}).
		Where("id = ? AND evaluation_score IS NULL", id).
		Updates(map[string]interface{}{
			"evaluation_attempts":   gorm.Expr("evaluation_attempts + ?", 1),
			"last_evaluation_error": reason,
		}).Error
	if err != nil {
		return 0, err
	}
	m, err := r.Material(ctx, id)
	if err != nil {
		return 0, err
	}
	return m.EvaluationAttempts, nil
}

// MarkAbandoned stops further attempts on an unscored material.
func (r *Repository) MarkAbandoned(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Material{}).
		Where("id = ? AND evaluation_score IS NULL", id).
		Update("evaluation_abandoned", true).Error
}

// UnresolvedPeerCount counts peer materials of the week that are neither scored nor abandoned.
func (r *Repository) UnresolvedPeerCount(ctx context.Context, courseID string, week int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Material{}).
		Where("course_id = ? AND week = ? AND kind = ?", courseID, week, KindPeer).
		Where("evaluation_score IS NULL AND evaluation_abandoned = ?", false).
		Count(&n).Error
	return n, err
}

// CreateCustomPDF stores the document and its page provenance in one transaction.
func (r *Repository) CreateCustomPDF(ctx context.Context, c *CustomPDF) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(c).Error
	})
}

func (r *Repository) CustomPDF(ctx context.Context, id string) (*CustomPDF, error) {
	var c CustomPDF
	err := r.db.WithContext(ctx).
		Preload("Pages", func(db *gorm.DB) *gorm.DB { return db.Order("order_index") }).
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repository) ListCustomPDFs(ctx context.Context, studentID string) ([]CustomPDF, error) {
	var out []CustomPDF
	err := r.db.WithContext(ctx).
		Preload("Pages", func(db *gorm.DB) *gorm.DB { return db.Order("order_index") }).
		Where("student_id = ?", studentID).
		Order("created_at DESC, id").
		Find(&out).Error
	return out, err
}

func (r *Repository) CreateNotification(ctx context.Context, n *Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *Repository) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	var out []Notification
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	err := q.Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

func (r *Repository) MarkNotificationRead(ctx context.Context, userID string, id uint) error {
	res := r.db.WithContext(ctx).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
