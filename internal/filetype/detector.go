package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	IsPDF       bool
	Supported   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type using magic bytes, not filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	mimeType := mtype.String()
	extension := mtype.Extension()

	log.Debug().Str("mime", mimeType).Str("ext", extension).Str("file", filePath).Msg("detected file type")

	// ZIP containers carry several paginated formats; the extension decides
	if mimeType == "application/zip" || strings.Contains(mimeType, "application/x-zip") {
		ext := strings.ToLower(filepath.Ext(filePath))
		switch ext {
		case ".cbz":
			mimeType = "application/vnd.comicbook+zip"
			extension = ".cbz"
		case ".xps":
			mimeType = "application/vnd.ms-xpsdocument"
			extension = ".xps"
		case ".oxps":
			mimeType = "application/oxps"
			extension = ".oxps"
		default:
			log.Warn().Str("ext", ext).Msg("ZIP file with unrecognized extension")
		}
	}

	info := &FileTypeInfo{
		MIMEType:  mimeType,
		Extension: extension,
	}
	d.classify(info)
	return info, nil
}

// classify marks which formats have pages we can count
func (d *Detector) classify(info *FileTypeInfo) {
	switch info.MIMEType {
	case "application/pdf":
		info.IsPDF = true
		info.Supported = true
		info.Description = "PDF document"
	case "application/epub+zip":
		info.Supported = true
		info.Description = "EPUB book"
	case "application/vnd.comicbook+zip":
		info.Supported = true
		info.Description = "Comic book archive"
	case "application/vnd.ms-xpsdocument", "application/oxps":
		info.Supported = true
		info.Description = "XPS document"
	default:
		info.Supported = false
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}
