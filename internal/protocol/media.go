package protocol

import (
	"net/url"
	"path"
	"strings"
)

// MediaRoute is the path prefix for content-addressed media retrieval.
const MediaRoute = "/api/media/"

// mimeExtensions maps MIME types to the file extension used when a file id
// carries none.
var mimeExtensions = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"video/mp4":          ".mp4",
	"video/quicktime":    ".mov",
	"video/x-msvideo":    ".avi",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"text/plain": ".txt",
	"audio/mpeg": ".mp3",
	"audio/wav":  ".wav",
	"audio/ogg":  ".ogg",
}

// ExtensionFor returns the extension to append to the attachment's file id,
// or "" when the id already has one.
func ExtensionFor(a Attachment) string {
	if strings.Contains(a.FileID, ".") {
		return ""
	}
	if i := strings.LastIndex(a.Caption, "."); i >= 0 {
		return "." + strings.ToLower(a.Caption[i+1:])
	}
	return mimeExtensions[a.MIMEType]
}

// MediaPath returns the retrieval path for an attachment. Each segment of
// the file id is escaped; the separators are kept.
func MediaPath(a Attachment) string {
	segments := strings.Split(a.FileID+ExtensionFor(a), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return MediaRoute + path.Join(segments...)
}
