package uploads

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kgellert/hodatay-classroom/internal/errs"
)

var (
	ErrInvalidFileID         = errs.Validation("invalid_file_id", "invalid file id")
	ErrContentTypeIsRequired = errs.Validation("content_type_required", "contentType is required")
	ErrInvalidContentType    = errs.Validation("invalid_content_type", "content type is not allowed")
	ErrExtensionMismatch     = errs.Validation("extension_mismatch", "file extension does not match content type")
	ErrFileTooLarge          = errs.Validation("file_too_large", "file is too large")
	ErrFileNotFound          = errs.NotFound("file_not_found", "uploaded file not found")
)

const keyPrefix = "uploads/"

var allowedContentTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/heic": ".heic",

	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint":                                             ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"text/plain": ".txt",

	"application/zip": ".zip",

	"audio/mpeg": ".mp3",
	"audio/ogg":  ".ogg",

	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

// ExtForContentType returns the extension stored keys get for ct.
func ExtForContentType(ct string) (string, bool) {
	ext, ok := allowedContentTypes[strings.ToLower(ct)]
	return ext, ok
}

func IsImage(ct string) bool {
	return strings.HasPrefix(strings.ToLower(ct), "image/")
}

// GenerateKey picks a fresh object key for an upload of contentType. A
// filename with an extension must agree with the content type; .jpeg is
// accepted for image/jpeg.
func GenerateKey(filename, contentType string) (string, error) {
	if contentType == "" {
		return "", ErrContentTypeIsRequired
	}

	ext, ok := ExtForContentType(contentType)
	if !ok {
		return "", ErrInvalidContentType
	}

	if fExt := strings.ToLower(filepath.Ext(filename)); fExt != "" && fExt != ext {
		if !(ext == ".jpg" && fExt == ".jpeg") {
			return "", ErrExtensionMismatch
		}
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", err
	}

	return keyPrefix + u.String() + ext, nil
}

func ValidateKey(key string) error {
	if !strings.HasPrefix(key, keyPrefix) || len(key) == len(keyPrefix) || strings.Contains(key, "..") {
		return ErrInvalidFileID
	}
	return nil
}

type PresignUploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type PresignUploadResponse struct {
	FileID    string `json:"fileId"`
	UploadURL string `json:"uploadUrl"`
}

type FileRequest struct {
	FileID string `json:"fileId"`
}

type PresignDownloadResponse struct {
	URL string `json:"url"`
}
