package directory

import "time"

type Role string

const (
	RoleStudent   Role = "student"
	RoleProfessor Role = "professor"
)

// MaterialKind separates the professor's reference copy from peer-contributed notes.
type MaterialKind string

const (
	KindReference MaterialKind = "reference"
	KindPeer      MaterialKind = "peer"
)

type WeekStatus string

const (
	WeekPending   WeekStatus = "pending"
	WeekCompleted WeekStatus = "completed"
)

type User struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex" json:"email"`
	Role      Role      `gorm:"size:32;not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string { return "users" }

type Course struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	ProfessorID string    `gorm:"size:64;index" json:"professor_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Course) TableName() string { return "courses" }

type Enrollment struct {
	CourseID  string    `gorm:"primaryKey;size:64" json:"course_id"`
	StudentID string    `gorm:"primaryKey;size:64" json:"student_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Enrollment) TableName() string { return "enrollments" }

// CourseWeek carries the upload deadline and evaluation status of one (course, week).
// A nil deadline means the week is never evaluated.
type CourseWeek struct {
	CourseID         string     `gorm:"primaryKey;size:64" json:"course_id"`
	Week             int        `gorm:"primaryKey;autoIncrement:false" json:"week"`
	UploadDeadline   *time.Time `gorm:"index" json:"upload_deadline,omitempty"`
	EvaluationStatus WeekStatus `gorm:"size:16;not null;default:pending" json:"evaluation_status"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (CourseWeek) TableName() string { return "course_weeks" }

// Material is one uploaded PDF. EvaluationScore and EvaluationCompleted are written together, once.
type Material struct {
	ID                  string       `gorm:"primaryKey;size:64" json:"id"`
	CourseID            string       `gorm:"size:64;index:idx_materials_course_week" json:"course_id"`
	Week                int          `gorm:"index:idx_materials_course_week" json:"week"`
	UploaderID          string       `gorm:"size:64;index" json:"uploader_id"`
	Kind                MaterialKind `gorm:"size:16;not null" json:"kind"`
	Filename            string       `gorm:"size:255" json:"filename"`
	BlobKey             string       `gorm:"size:512;not null" json:"-"`
	PageCount           int          `json:"page_count"`
	DownloadCount       int64        `gorm:"not null;default:0" json:"download_count"`
	ViewCount           int64        `gorm:"not null;default:0" json:"view_count"`
	EvaluationScore     *float64     `json:"evaluation_score"`
	EvaluationCompleted bool         `gorm:"not null;default:false" json:"evaluation_completed"`
	EvaluationSummary   string       `gorm:"type:text" json:"evaluation_summary,omitempty"`
	EvaluatedAt         *time.Time   `json:"evaluated_at,omitempty"`
	EvaluationAttempts  int          `gorm:"not null;default:0" json:"evaluation_attempts"`
	EvaluationAbandoned bool         `gorm:"not null;default:false" json:"evaluation_abandoned"`
	LastEvaluationError string       `gorm:"size:64" json:"last_evaluation_error,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

func (Material) TableName() string { return "materials" }

// CustomPDF is a student's composite document; Pages records where each output page came from.
type CustomPDF struct {
	ID        string          `gorm:"primaryKey;size:64" json:"id"`
	StudentID string          `gorm:"size:64;index" json:"student_id"`
	CourseID  string          `gorm:"size:64" json:"course_id"`
	Week      int             `json:"week"`
	Title     string          `gorm:"size:255" json:"title"`
	BlobKey   string          `gorm:"size:512;not null" json:"-"`
	PageCount int             `json:"page_count"`
	CreatedAt time.Time       `json:"created_at"`
	Pages     []CustomPDFPage `gorm:"foreignKey:CustomPDFID;constraint:OnDelete:CASCADE" json:"pages"`
}

func (CustomPDF) TableName() string { return "custom_pdfs" }

type CustomPDFPage struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	CustomPDFID string `gorm:"column:custom_pdf_id;size:64;index" json:"-"`
	OrderIndex  int    `json:"order_index"`
	MaterialID  string `gorm:"size:64" json:"material_id"`
	SourcePage  int    `json:"page_num"`
}

func (CustomPDFPage) TableName() string { return "custom_pdf_pages" }

const (
	NotificationEvaluation = "evaluation"
	NotificationUpload     = "upload"
)

type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;index" json:"user_id"`
	Type      string    `gorm:"size:32" json:"type"`
	Message   string    `gorm:"type:text" json:"message"`
	RelatedID string    `gorm:"size:64" json:"related_id,omitempty"`
	IsRead    bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&User{}, &Course{}, &Enrollment{}, &CourseWeek{}, &Material{}, &CustomPDF{}, &CustomPDFPage{}, &Notification{}}
}
