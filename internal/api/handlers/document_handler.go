package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/docindex/internal/core/chunker"
	"github.com/markdave123-py/docindex/internal/services"
)

// MaxUploadBytes bounds a multipart upload or JSON document body.
const MaxUploadBytes = 50 << 20

type DocumentHandler struct {
	docs *services.DocumentService
}

func NewDocumentHandler(docs *services.DocumentService) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

type pageInput struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
}

type sectionInput struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

type createDocumentRequest struct {
	Title            string         `json:"title"`
	Category         string         `json:"category"`
	FileType         string         `json:"fileType"`
	OriginalFileName string         `json:"originalFileName"`
	FileSize         int64          `json:"fileSize"`
	Text             string         `json:"text"`
	Pages            []pageInput    `json:"pages"`
	Sections         []sectionInput `json:"sections"`
}

type createDocumentResponse struct {
	DocumentID string `json:"documentId"`
	StatusURL  string `json:"statusUrl"`
}

// UploadDocument accepts either a JSON body with extracted text or a
// multipart upload with a "file" part, and answers 202 once the job is
// queued.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	var (
		req services.CreateDocumentRequest
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = parseMultipart(r)
	} else {
		req, err = parseJSON(r)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("document larger than %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.docs.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	statusURL := "/api/documents/" + doc.ID + "/status"
	w.Header().Set("Location", statusURL)
	writeJSON(w, r, http.StatusAccepted, createDocumentResponse{DocumentID: doc.ID, StatusURL: statusURL})
}

func parseJSON(r *http.Request) (services.CreateDocumentRequest, error) {
	var body createDocumentRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return services.CreateDocumentRequest{}, fmt.Errorf("invalid JSON body: %w", err)
	}

	req := services.CreateDocumentRequest{
		Title:            body.Title,
		Category:         body.Category,
		FileType:         body.FileType,
		OriginalFileName: body.OriginalFileName,
		FileSize:         body.FileSize,
		Text:             body.Text,
	}
	for i, p := range body.Pages {
		n := p.PageNumber
		if n <= 0 {
			n = i + 1
		}
		req.Pages = append(req.Pages, chunker.Page{Number: n, Text: p.Text})
	}
	for _, s := range body.Sections {
		req.Sections = append(req.Sections, chunker.Section{Title: s.Title, Text: s.Text})
	}
	return req, nil
}

func parseMultipart(r *http.Request) (services.CreateDocumentRequest, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return services.CreateDocumentRequest{}, err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return services.CreateDocumentRequest{}, errors.New(`missing "file" part`)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return services.CreateDocumentRequest{}, err
	}

	filename := filepath.Base(header.Filename)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
			contentType = byExt
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	title := r.FormValue("title")
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	return services.CreateDocumentRequest{
		Title:            title,
		Category:         r.FormValue("category"),
		FileType:         contentType,
		OriginalFileName: filename,
		FileSize:         header.Size,
		Data:             data,
	}, nil
}

func (h *DocumentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.docs.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := h.docs.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.docs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) CancelDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.docs.Cancel(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"documentId": id, "status": "canceling"})
}
