package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// AllowedExtensions is the set of upload filename extensions accepted.
var AllowedExtensions = []string{".ogg", ".oga", ".wav", ".mp3"}

const (
	FormField = "audio"

	// multipartSlack covers part headers and boundaries around the audio part.
	multipartSlack = 64 << 10
	sniffLen       = 3072
	fallbackExt    = ".bin"
)

// upload is a validated payload that has not been written anywhere yet.
type upload struct {
	filename string
	ext      string
	kind     string
	body     *bufio.Reader
}

// openUpload validates the request and positions a reader at the start of
// the audio payload. Nothing touches the filesystem here.
func openUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (*upload, error) {
	if r.ContentLength > maxBytes+multipartSlack {
		return nil, tooLarge(maxBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartSlack)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == "multipart/form-data":
		return openMultipart(r, maxBytes)
	case mediaType == "application/octet-stream" || strings.HasPrefix(mediaType, "audio/"):
		if r.ContentLength > maxBytes {
			return nil, tooLarge(maxBytes)
		}
		return newUpload(rawFilename(r), "raw", r.Body, maxBytes)
	case r.ContentLength == 0:
		return nil, badRequest(MessageNoAudio)
	default:
		return nil, badRequest(unsupportedContentType(r.Header.Get("Content-Type")))
	}
}

func unsupportedContentType(header string) string {
	const accepted = "send application/octet-stream, audio/* or multipart/form-data"
	if strings.TrimSpace(header) == "" {
		return "missing content type, " + accepted
	}
	return fmt.Sprintf("unsupported content type %q, %s", header, accepted)
}

func openMultipart(r *http.Request, maxBytes int64) (*upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest(MessageNoAudio)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, badRequest(MessageNoAudio)
		}
		if err != nil {
			if isBodyTooLarge(err) {
				return nil, tooLarge(maxBytes)
			}
			return nil, badRequest("malformed multipart body")
		}

		if part.FormName() != FormField {
			continue
		}
		return newUpload(part.FileName(), "multipart", part, maxBytes)
	}
}

func newUpload(filename, kind string, body io.Reader, maxBytes int64) (*upload, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "." || filename == string(filepath.Separator) {
		filename = ""
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext != "" && !slices.Contains(AllowedExtensions, ext) {
		return nil, badRequest(fmt.Sprintf("unsupported file extension %q, allowed: %s", ext, strings.Join(AllowedExtensions, ", ")))
	}

	br := bufio.NewReaderSize(body, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		if isBodyTooLarge(err) {
			return nil, tooLarge(maxBytes)
		}
		return nil, badRequest("failed to read audio payload")
	}
	if len(head) == 0 {
		return nil, badRequest(MessageNoAudio)
	}

	if ext == "" {
		ext = sniffExtension(head)
	}

	return &upload{filename: filename, ext: ext, kind: kind, body: br}, nil
}

// sniffExtension guesses an extension for payloads that arrive without a
// filename. ffmpeg probes the content itself, so this only names the file.
func sniffExtension(head []byte) string {
	ext := mimetype.Detect(head).Extension()
	if ext == "" {
		return fallbackExt
	}
	return ext
}

func rawFilename(r *http.Request) string {
	if name := r.URL.Query().Get("filename"); name != "" {
		return name
	}
	if cd := r.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			return params["filename"]
		}
	}
	return ""
}

// save streams the payload into path. One byte past the limit is read so an
// oversized body is detected without buffering it.
func (u *upload) save(path string, maxBytes int64) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, ioFailed("failed to save audio file", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(u.body, maxBytes+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil && isBodyTooLarge(copyErr):
		return n, tooLarge(maxBytes)
	case copyErr != nil:
		return n, badRequest("failed to read audio payload")
	case n > maxBytes:
		return n, tooLarge(maxBytes)
	case closeErr != nil:
		return n, ioFailed("failed to save audio file", closeErr)
	}

	info, err := os.Stat(path)
	if err != nil {
		return n, ioFailed("saved audio file is missing", err)
	}
	if info.Size() != n {
		return n, ioFailed("saved audio file is incomplete", fmt.Errorf("wrote %d bytes, found %d", n, info.Size()))
	}
	return n, nil
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
