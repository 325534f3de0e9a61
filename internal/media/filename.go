package media

import (
	"path/filepath"
	"strconv"
	"strings"
)

var mimeExtensions = []struct {
	fragment string
	ext      string
}{
	{"audio/mpeg", ".mp3"},
	{"audio/mp3", ".mp3"},
	{"audio/mp4", ".m4a"},
	{"audio/m4a", ".m4a"},
	{"audio/ogg", ".ogg"},
	{"audio/wav", ".wav"},
	{"audio/flac", ".flac"},
	{"video/mp4", ".mp4"},
	{"video/webm", ".webm"},
	{"video/x-matroska", ".mkv"},
	{"video/quicktime", ".mov"},
	{"image/jpeg", ".jpg"},
	{"image/png", ".png"},
	{"image/webp", ".webp"},
	{"image/gif", ".gif"},
	{"application/pdf", ".pdf"},
	{"application/zip", ".zip"},
}

var kindExtensions = map[Kind]string{
	KindAudio:     ".mp3",
	KindVideo:     ".mp4",
	KindPhoto:     ".jpg",
	KindVoice:     ".ogg",
	KindVideoNote: ".mp4",
	KindSticker:   ".webp",
	KindAnimation: ".gif",
}

// FileName returns the destination file name for an item. The remote name
// is kept when it is a usable single path element; otherwise the name is
// "{kind}_{id}{ext}".
func FileName(item *Item) string {
	if item.Name != "" {
		if name := sanitize(filepath.Base(item.Name)); name != "" {
			return name
		}
	}

	return item.Kind.String() + "_" + strconv.FormatInt(item.ID, 10) + Extension(item)
}

// Extension derives a lower-case extension (with dot) from the item's name,
// then its MIME type, then its kind. Falls back to ".bin".
func Extension(item *Item) string {
	if ext := filepath.Ext(item.Name); len(ext) > 1 {
		return strings.ToLower(ext)
	}

	mime := strings.ToLower(item.MIME)
	if mime != "" {
		for _, m := range mimeExtensions {
			if strings.Contains(mime, m.fragment) {
				return m.ext
			}
		}
	}

	if ext, ok := kindExtensions[item.Kind]; ok {
		return ext
	}

	return ".bin"
}

// KindFromMIME classifies a MIME type into a Kind. Anything that is not
// audio, video or image is a document.
func KindFromMIME(mime string) Kind {
	mime = strings.ToLower(mime)

	switch {
	case mime == "":
		return KindUnknown
	case strings.HasPrefix(mime, "audio/ogg"), strings.HasPrefix(mime, "audio/opus"):
		return KindVoice
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	case mime == "image/gif":
		return KindAnimation
	case mime == "image/webp", mime == "application/x-tgsticker":
		return KindSticker
	case strings.HasPrefix(mime, "image/"):
		return KindPhoto
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	default:
		return KindDocument
	}
}

// SafeName turns a display title into a single path element.
func SafeName(title string) string {
	if name := sanitize(title); name != "" {
		return name
	}

	return "untitled"
}

// sanitize maps separators and reserved characters to '_', drops control
// characters and trims dots and spaces. It returns "" when nothing is left.
func sanitize(title string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}

		if r < 0x20 {
			return -1
		}

		return r
	}, strings.TrimSpace(title))

	return strings.Trim(name, ". ")
}
