package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/myrespondr/orgdocs/internal/apperr"
	"github.com/myrespondr/orgdocs/internal/metrics"
	"github.com/myrespondr/orgdocs/internal/repository"
)

// fallbackScope partitions uploads that carry no organization; a missing org
// is a valid "unscoped" upload, not an error.
const fallbackScope = "unscoped"

// maxFieldBytes bounds the optional text fields (user_id, org_id,
// description) so a hostile form cannot buffer arbitrary data.
const maxFieldBytes = 8 << 10

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeFilename replaces every character outside [A-Za-z0-9._-] with an
// underscore. Sanitizing an already clean name is a no-op.
func sanitizeFilename(name string) string {
	return unsafeFilenameChars.ReplaceAllString(name, "_")
}

// storageKey derives the blob key for one upload. The document id labels both
// the blob and its metadata row, so it is generated before the storage write.
func storageKey(orgID, documentID, filename string) string {
	scope := fallbackScope
	if orgID != "" {
		scope = "orgs/" + orgID
	}
	return fmt.Sprintf("%s/%s_%s", scope, documentID, sanitizeFilename(filename))
}

type uploadResponse struct {
	Success     bool   `json:"success"`
	DocumentID  string `json:"document_id"`
	StoragePath string `json:"storage_path"`
	Bucket      string `json:"bucket"`
}

// handleUpload accepts one multipart submission: a required file part plus
// optional user_id, org_id, and description fields. The write is two-phase
// and strictly ordered: blob first, metadata row second. The phases are not
// transactional; a phase-2 failure leaves an orphaned blob, which is logged,
// counted, and handed to the reconcile queue.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.store == nil || s.repo == nil {
		metrics.UploadsTotal.WithLabelValues("config_error").Inc()
		respondError(w, apperr.StoreUnavailable("document stores are not configured", nil))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+64<<10)
	mr, err := r.MultipartReader()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("validation_error").Inc()
		respondError(w, apperr.Validation("expecting multipart form"))
		return
	}

	fields := make(map[string]string)
	var file *tempUpload
	defer func() {
		if file != nil {
			file.f.Close()
			os.Remove(file.path)
		}
	}()
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("validation_error").Inc()
			respondError(w, partError(err))
			return
		}
		if part.FormName() == "file" && file == nil {
			file, err = s.spoolFilePart(part)
			part.Close()
			if err != nil {
				metrics.UploadsTotal.WithLabelValues("validation_error").Inc()
				respondError(w, err)
				return
			}
			continue
		}
		value, err := readField(part)
		part.Close()
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("validation_error").Inc()
			respondError(w, err)
			return
		}
		fields[part.FormName()] = value
	}
	if file == nil {
		metrics.UploadsTotal.WithLabelValues("validation_error").Inc()
		respondError(w, apperr.Validation("file is required"))
		return
	}
	if err := s.checkContentType(file.contentType); err != nil {
		metrics.UploadsTotal.WithLabelValues("validation_error").Inc()
		respondError(w, err)
		return
	}

	userID := strings.TrimSpace(fields["user_id"])
	orgID := strings.TrimSpace(fields["org_id"])
	description := strings.TrimSpace(fields["description"])
	if userID == "" || orgID == "" {
		userID, orgID = s.resolveIdentity(r, userID, orgID)
	}

	docID := uuid.NewString()
	key := storageKey(orgID, docID, file.filename)

	if _, err := file.f.Seek(0, io.SeekStart); err != nil {
		metrics.UploadsTotal.WithLabelValues("internal_error").Inc()
		respondError(w, apperr.Internal("failed to read upload", err))
		return
	}
	if err := s.store.Upload(ctx, key, file.f, file.size, file.contentType); err != nil {
		metrics.UploadsTotal.WithLabelValues("storage_error").Inc()
		log.Printf("blob write failed document=%s key=%s: %v", docID, key, err)
		respondError(w, apperr.StoreUnavailable(err.Error(), nil))
		return
	}

	rec := &repository.DocumentRecord{
		ID:          docID,
		UserID:      optional(userID),
		OrgID:       optional(orgID),
		Filename:    file.filename,
		StoragePath: key,
		Bucket:      s.cfg.Bucket,
		ContentType: file.contentType,
		SizeBytes:   file.size,
		Description: optional(description),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		metrics.UploadsTotal.WithLabelValues("metadata_error").Inc()
		metrics.OrphanedBlobsTotal.Inc()
		log.Printf("orphaned blob document=%s bucket=%s key=%s: %v", docID, s.cfg.Bucket, key, err)
		if s.orphans != nil {
			if qerr := s.orphans.EnqueueReconcile(ctx, docID, key, s.cfg.Bucket); qerr != nil {
				log.Printf("enqueue reconcile document=%s: %v", docID, qerr)
			}
		}
		respondError(w, err)
		return
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	respondJSON(w, http.StatusOK, uploadResponse{
		Success:     true,
		DocumentID:  docID,
		StoragePath: key,
		Bucket:      s.cfg.Bucket,
	})
}

// resolveIdentity fills missing user/org fields from a bearer token when one
// is present. Resolution failure degrades to an unscoped upload.
func (s *Server) resolveIdentity(r *http.Request, userID, orgID string) (string, string) {
	if s.identity == nil {
		return userID, orgID
	}
	token := bearerToken(r)
	if token == "" {
		return userID, orgID
	}
	u, err := s.identity.User(r.Context(), token)
	if err != nil {
		log.Printf("bearer resolution failed: %v", err)
		return userID, orgID
	}
	if userID == "" {
		userID = u.ID
	}
	if orgID == "" {
		orgID = u.OrgID
		if orgID == "" && s.profiles != nil {
			v, err := s.profiles.OrgID(r.Context(), u.ID)
			if err != nil {
				log.Printf("profile lookup failed for %s: %v", u.ID, err)
			} else {
				orgID = v
			}
		}
	}
	return userID, orgID
}

func (s *Server) checkContentType(contentType string) error {
	if len(s.cfg.AllowedTypes) == 0 {
		return nil
	}
	for _, allowed := range s.cfg.AllowedTypes {
		if contentType == allowed {
			return nil
		}
	}
	return apperr.UnsupportedMedia(fmt.Sprintf("content type %q is not allowed", contentType))
}

type tempUpload struct {
	f           *os.File
	path        string
	size        int64
	contentType string
	filename    string
}

// spoolFilePart streams the file part to a temp file, enforcing the size
// bound while copying so oversized submissions never get fully buffered.
func (s *Server) spoolFilePart(part *multipart.Part) (*tempUpload, error) {
	tmpFile, err := os.CreateTemp("", "orgdocs-upload-*")
	if err != nil {
		return nil, apperr.Internal("failed to spool upload", err)
	}
	discard := func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}
	var sniff []byte
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			written += int64(n)
			if written > s.cfg.MaxUploadBytes {
				discard()
				return nil, apperr.PayloadTooLarge(fmt.Sprintf("file exceeds limit (%d bytes)", s.cfg.MaxUploadBytes))
			}
			if len(sniff) < 512 {
				chunk := n
				if remain := 512 - len(sniff); chunk > remain {
					chunk = remain
				}
				sniff = append(sniff, buf[:chunk]...)
			}
			if _, err := tmpFile.Write(buf[:n]); err != nil {
				discard()
				return nil, apperr.Internal("failed to spool upload", err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			discard()
			return nil, partError(readErr)
		}
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(sniff)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "upload"
	}
	return &tempUpload{
		f:           tmpFile,
		path:        tmpFile.Name(),
		size:        written,
		contentType: contentType,
		filename:    filename,
	}, nil
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", partError(err)
	}
	if len(data) > maxFieldBytes {
		return "", apperr.Validation(fmt.Sprintf("field %q is too large", part.FormName()))
	}
	return string(data), nil
}

// partError distinguishes the request-body size cap from malformed input.
func partError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
		return apperr.PayloadTooLarge("request body exceeds the upload limit")
	}
	return apperr.Validation("malformed multipart body")
}
