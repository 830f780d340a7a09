package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/flightlog/internal/common"
	"example.com/flightlog/internal/keychain"
	"example.com/flightlog/internal/report"
	"example.com/flightlog/internal/txtlog"
)

// Server coordinates HTTP handlers and manages artifacts produced by decode
// requests.
type Server struct {
	artifacts  *ArtifactStore
	flights    *FlightStore
	workDir    string
	uploadsDir string

	keychainCfg keychain.Config
	lang        report.Language

	decodeSlots chan struct{}
	timeout     time.Duration
}

// Options configures server creation.
type Options struct {
	StorageDir string
	Keychain   keychain.Config
	Lang       report.Language
	// Concurrency bounds simultaneous decodes; default is NumCPU.
	Concurrency int
	// DecodeTimeout bounds one decode request end to end. It must exceed the
	// keychain client's own network timeout so cancellation is attributable.
	DecodeTimeout time.Duration
}

// Artifact represents a file generated or stored by the daemon.
type Artifact struct {
	ID          string
	Path        string
	Name        string
	ContentType string
	Size        int64
	Kind        string
	Fingerprint string // SHA-256 hex digest, computed at ingest
}

// ArtifactRef is the public representation returned in API responses.
type ArtifactRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ArtifactStore keeps track of generated artifacts for later download.
type ArtifactStore struct {
	mu      sync.RWMutex
	entries map[string]Artifact
}

// Flight is one decoded log retained for follow-up queries.
type Flight struct {
	ID          string
	Name        string
	Fingerprint string
	Result      *txtlog.Result
}

// FlightRef is the public representation of a decoded flight.
type FlightRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	DataPoints  int    `json:"dataPoints"`
}

// FlightStore retains decode results for the lifetime of the daemon.
type FlightStore struct {
	mu      sync.RWMutex
	entries map[string]*Flight
}

// NewServer constructs a Server rooted at a temporary workspace directory.
func NewServer(opts Options) (*Server, error) {
	storageDir := opts.StorageDir
	if storageDir == "" {
		storageDir = os.TempDir()
	}
	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, err
	}
	workDir, err := os.MkdirTemp(storageDir, "flightlogd-")
	if err != nil {
		return nil, err
	}
	uploadsDir := filepath.Join(workDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o755); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	timeout := opts.DecodeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	s := &Server{
		artifacts:   &ArtifactStore{entries: make(map[string]Artifact)},
		flights:     &FlightStore{entries: make(map[string]*Flight)},
		workDir:     workDir,
		uploadsDir:  uploadsDir,
		keychainCfg: opts.Keychain,
		lang:        opts.Lang,
		decodeSlots: make(chan struct{}, concurrency),
		timeout:     timeout,
	}
	return s, nil
}

// Close removes any temporary state associated with the server.
func (s *Server) Close() error {
	if s == nil || s.workDir == "" {
		return nil
	}
	return os.RemoveAll(s.workDir)
}

func (s *Server) tempPath(pattern string) (string, error) {
	f, err := os.CreateTemp(s.workDir, pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	return name, nil
}

func (s *Server) addArtifact(path, displayName, contentType, kind, fingerprint string) (Artifact, error) {
	if path == "" {
		return Artifact{}, errors.New("empty path")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, err
	}
	id := randomID()
	art := Artifact{
		ID:          id,
		Path:        path,
		Name:        displayName,
		ContentType: contentType,
		Size:        info.Size(),
		Kind:        kind,
		Fingerprint: fingerprint,
	}
	if art.Name == "" {
		art.Name = filepath.Base(path)
	}
	if art.ContentType == "" {
		art.ContentType = guessContentType(art.Name)
	}
	s.artifacts.mu.Lock()
	s.artifacts.entries[id] = art
	s.artifacts.mu.Unlock()
	return art, nil
}

func (s *Server) getArtifact(id string) (Artifact, bool) {
	s.artifacts.mu.RLock()
	art, ok := s.artifacts.entries[id]
	s.artifacts.mu.RUnlock()
	return art, ok
}

func (s *Server) addFlight(name, fingerprint string, res *txtlog.Result) *Flight {
	f := &Flight{
		ID:          randomID(),
		Name:        name,
		Fingerprint: fingerprint,
		Result:      res,
	}
	s.flights.mu.Lock()
	s.flights.entries[f.ID] = f
	s.flights.mu.Unlock()
	return f
}

func (s *Server) getFlight(id string) (*Flight, bool) {
	s.flights.mu.RLock()
	f, ok := s.flights.entries[id]
	s.flights.mu.RUnlock()
	return f, ok
}

func (s *Server) resolvePath(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty input path")
	}
	if art, ok := s.getArtifact(token); ok {
		return art.Path, nil
	}
	abs := token
	if !filepath.IsAbs(token) {
		abs = filepath.Clean(token)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req struct {
		Input string `json:"input"` // artifact ID or path
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Input == "" {
		http.Error(w, "input required", http.StatusBadRequest)
		return
	}
	inputPath, err := s.resolvePath(req.Input)
	if err != nil {
		http.Error(w, fmt.Sprintf("input resolve: %v", err), http.StatusBadRequest)
		return
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("read input: %v", err), http.StatusBadRequest)
		return
	}
	name := req.Name
	if name == "" {
		name = filepath.Base(inputPath)
	}

	select {
	case s.decodeSlots <- struct{}{}:
		defer func() { <-s.decodeSlots }()
	case <-r.Context().Done():
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	res, err := txtlog.Decode(ctx, data, txtlog.Options{
		Filename: name,
		Fetcher:  keychain.NewClient(s.keychainCfg),
	})
	if err != nil && res == nil {
		status := http.StatusInternalServerError
		var apiErr *keychain.APIKeyError
		var netErr *keychain.NetworkError
		switch {
		case errors.As(err, &apiErr), errors.As(err, &netErr), errors.Is(err, keychain.ErrEmptyKeychain):
			status = http.StatusBadGateway
		case txtlog.IsFatal(err):
			// The file itself is unreadable, not the service.
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, fmt.Sprintf("decode: %v", err), status)
		return
	}
	if err != nil {
		// Partial results still flow to the caller; the ledger carries the
		// terminal error.
		common.Logf("decode of %s ended early: %v", name, err)
	}

	// Uploads are fingerprinted at ingest; only path inputs need hashing here.
	var fingerprint string
	if art, ok := s.getArtifact(req.Input); ok {
		fingerprint = art.Fingerprint
	}
	if fingerprint == "" {
		fingerprint = common.Sha256OfBytes(data)
	}
	f := s.addFlight(name, fingerprint, res)

	jsonPath, err := s.tempPath("flight-*.json")
	if err != nil {
		http.Error(w, fmt.Sprintf("flight temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveFlightJSON(res, jsonPath); err != nil {
		http.Error(w, fmt.Sprintf("write flight json: %v", err), http.StatusInternalServerError)
		return
	}
	pdfPath, err := s.tempPath("flight-*.pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("flight pdf temp: %v", err), http.StatusInternalServerError)
		return
	}
	if err := report.SaveFlightPDF(res, pdfPath, report.PDFOptions{Lang: s.lang, Fingerprint: fingerprint}); err != nil {
		http.Error(w, fmt.Sprintf("write flight pdf: %v", err), http.StatusInternalServerError)
		return
	}
	jsonArt, err := s.addArtifact(jsonPath, "flight.json", "application/json", "flight", fingerprint)
	if err != nil {
		http.Error(w, fmt.Sprintf("register flight json: %v", err), http.StatusInternalServerError)
		return
	}
	pdfArt, err := s.addArtifact(pdfPath, "flight_report.pdf", "application/pdf", "report", fingerprint)
	if err != nil {
		http.Error(w, fmt.Sprintf("register flight pdf: %v", err), http.StatusInternalServerError)
		return
	}

	if stream {
		writer := NewNDJSONWriter(w)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for i := range res.DataPoints {
			if err := writer.WriteObject(res.DataPoints[i]); err != nil {
				return
			}
		}
		_ = writer.WriteObject(struct {
			Type      string        `json:"type"`
			Flight    FlightRef     `json:"flight"`
			Summary   any           `json:"summary"`
			Artifacts []ArtifactRef `json:"artifacts"`
		}{
			Type:      "summary",
			Flight:    toFlightRef(f),
			Summary:   res.Summary,
			Artifacts: []ArtifactRef{toRef(jsonArt), toRef(pdfArt)},
		})
		return
	}

	resp := struct {
		Flight    FlightRef           `json:"flight"`
		Summary   any                 `json:"summary"`
		Warnings  []txtlog.Diagnostic `json:"warnings"`
		Errors    []txtlog.Diagnostic `json:"errors"`
		Artifacts []ArtifactRef       `json:"artifacts"`
	}{
		Flight:    toFlightRef(f),
		Summary:   res.Summary,
		Warnings:  res.Warnings,
		Errors:    res.Errors,
		Artifacts: []ArtifactRef{toRef(jsonArt), toRef(pdfArt)},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/flights")
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		writeJSON(w, http.StatusOK, s.listFlights())
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	f, ok := s.getFlight(parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		writeJSON(w, http.StatusOK, struct {
			Flight  FlightRef `json:"flight"`
			Summary any       `json:"summary"`
		}{Flight: toFlightRef(f), Summary: f.Result.Summary})
		return
	}
	switch parts[1] {
	case "points.ndjson":
		s.serveFlightPoints(w, f)
	case "report.pdf":
		s.serveFlightPDF(w, f)
	case "qr.png":
		s.serveFlightQR(w, f)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveFlightPoints(w http.ResponseWriter, f *Flight) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	writer := NewNDJSONWriter(w)
	for i := range f.Result.DataPoints {
		if err := writer.WriteObject(f.Result.DataPoints[i]); err != nil {
			return
		}
	}
}

func (s *Server) serveFlightPDF(w http.ResponseWriter, f *Flight) {
	pdfPath, err := s.tempPath("flight-*.pdf")
	if err != nil {
		http.Error(w, fmt.Sprintf("report temp: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.Remove(pdfPath)
	if err := report.SaveFlightPDF(f.Result, pdfPath, report.PDFOptions{Lang: s.lang, Fingerprint: f.Fingerprint}); err != nil {
		http.Error(w, fmt.Sprintf("render report: %v", err), http.StatusInternalServerError)
		return
	}
	pdf, err := os.Open(pdfPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("open report: %v", err), http.StatusInternalServerError)
		return
	}
	defer pdf.Close()
	w.Header().Set("Content-Type", "application/pdf")
	io.Copy(w, pdf)
}

func (s *Server) serveFlightQR(w http.ResponseWriter, f *Flight) {
	png, err := report.FingerprintQR(f.Fingerprint, 256)
	if err != nil {
		http.Error(w, fmt.Sprintf("render qr: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(png)))
	w.Write(png)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, fmt.Sprintf("stat artifact: %v", err), http.StatusInternalServerError)
		return
	}
	if art.ContentType != "" {
		w.Header().Set("Content-Type", art.ContentType)
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	disposition := fmt.Sprintf("attachment; filename=\"%s\"", art.Name)
	w.Header().Set("Content-Disposition", disposition)
	io.Copy(w, f)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listFlights() []FlightRef {
	s.flights.mu.RLock()
	refs := make([]FlightRef, 0, len(s.flights.entries))
	for _, f := range s.flights.entries {
		refs = append(refs, toFlightRef(f))
	}
	s.flights.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

func (s *Server) listArtifacts() []ArtifactRef {
	s.artifacts.mu.RLock()
	refs := make([]ArtifactRef, 0, len(s.artifacts.entries))
	for _, art := range s.artifacts.entries {
		refs = append(refs, toRef(art))
	}
	s.artifacts.mu.RUnlock()
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs
}

func toRef(art Artifact) ArtifactRef {
	return ArtifactRef{
		ID:          art.ID,
		Name:        art.Name,
		ContentType: art.ContentType,
		Size:        art.Size,
		Kind:        art.Kind,
		Fingerprint: art.Fingerprint,
	}
}

func toFlightRef(f *Flight) FlightRef {
	return FlightRef{
		ID:          f.ID,
		Name:        f.Name,
		Fingerprint: f.Fingerprint,
		DataPoints:  len(f.Result.DataPoints),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func guessContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	case ".ndjson":
		return "application/x-ndjson"
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".txt":
		// Flight logs ship with a plain-text extension but are binary.
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

func randomID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		now := time.Now().UTC()
		return fmt.Sprintf("%d%06d", now.UnixNano(), os.Getpid())
	}
	return hex.EncodeToString(b[:])
}
