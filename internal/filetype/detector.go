package filetype

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const (
	MIMEPDF  = "application/pdf"
	MIMEJPEG = "image/jpeg"
)

// ErrNotPDF is returned when bytes that should be a PDF sniff as something else.
var ErrNotPDF = errors.New("not a PDF document")

// Info contains detected file type information
type Info struct {
	MIMEType  string
	Extension string
}

// Detector sniffs content using magic bytes, never the filename.
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

func (d *Detector) Detect(data []byte) Info {
	mtype := mimetype.Detect(data)
	return Info{MIMEType: mtype.String(), Extension: mtype.Extension()}
}

// RequirePDF fails with ErrNotPDF unless data carries the PDF signature.
func (d *Detector) RequirePDF(data []byte) error {
	mtype := mimetype.Detect(data)
	if mtype.Is(MIMEPDF) {
		return nil
	}
	log.Debug().Str("mime", mtype.String()).Int("size", len(data)).Msg("rejected non-PDF content")
	return fmt.Errorf("%w: detected %s", ErrNotPDF, mtype.String())
}

// IsJPEG reports whether data is a JPEG image.
func (d *Detector) IsJPEG(data []byte) bool {
	return mimetype.Detect(data).Is(MIMEJPEG)
}
