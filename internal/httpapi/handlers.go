package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fmesched/internal/engine"
	"fmesched/internal/job"
	"fmesched/internal/storage"
	logx "fmesched/pkg/logx"
)

// logFileName is the whitelist for viewer downloads; anything else is
// rejected before touching the filesystem.
var logFileName = regexp.MustCompile(`^[\w.-]+\.log$`)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.ScriptsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusOK, []string{})
			return
		}
		s.log.Error("failed reading scripts directory", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not read the script list")
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".fmw") {
			names = append(names, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.List()
	if err != nil {
		s.log.Error("failed reading jobs file", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not read the job list")
		return
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// scheduleRequest is the JSON body variant of POST /api/schedule. The
// multipart/form variant carries the same field names.
type scheduleRequest struct {
	ScriptName     string `json:"scriptName"`
	RunTime        string `json:"runTime"`
	RecurrenceType string `json:"recurrenceType"`
	RecurrenceTime string `json:"recurrenceTime"`
	DaysOfWeek     []int  `json:"daysOfWeek"`
	DayOfMonth     int    `json:"dayOfMonth"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest

	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	default:
		// Multipart (with optional upload) or urlencoded form.
		if strings.HasPrefix(ct, "multipart/form-data") {
			if err := r.ParseMultipartForm(int64(s.cfg.MaxUploadMB) << 20); err != nil {
				writeError(w, http.StatusBadRequest, "invalid multipart form")
				return
			}
			uploaded, err := s.saveUpload(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			req.ScriptName = uploaded
		} else if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form")
			return
		}
		if req.ScriptName == "" {
			req.ScriptName = r.FormValue("scriptName")
		}
		req.RunTime = r.FormValue("runTime")
		req.RecurrenceType = r.FormValue("recurrenceType")
		req.RecurrenceTime = r.FormValue("recurrenceTime")
		req.DaysOfWeek = parseDays(r.Form["daysOfWeek"])
		req.DayOfMonth, _ = strconv.Atoi(r.FormValue("dayOfMonth"))
	}

	if strings.TrimSpace(req.ScriptName) == "" {
		writeError(w, http.StatusBadRequest, "select an existing script or upload a new one")
		return
	}
	runTime, err := parseRunTime(req.RunTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "runTime is required and must be a valid date")
		return
	}

	j, err := s.eng.Create(engine.CreateRequest{
		ScriptName:     req.ScriptName,
		RunTime:        runTime,
		RecurrenceType: req.RecurrenceType,
		RepeatAt:       req.RecurrenceTime,
		DaysOfWeek:     req.DaysOfWeek,
		DayOfMonth:     req.DayOfMonth,
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("failed saving job", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not save the job")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "job scheduled and armed",
		"job":     j,
	})
}

// saveUpload stores the "fmeFile" part into the scripts directory under its
// original base name. Returns "" when the request carries no file.
func (s *Server) saveUpload(r *http.Request) (string, error) {
	file, hdr, err := r.FormFile("fmeFile")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", errors.New("invalid file upload")
	}
	defer file.Close()

	name := filepath.Base(hdr.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".fmw") {
		return "", errors.New("only .fmw files are allowed")
	}
	if err := os.MkdirAll(s.cfg.ScriptsDir, 0o755); err != nil {
		return "", errors.New("could not store the uploaded file")
	}
	if err := s.writeUpload(file, filepath.Join(s.cfg.ScriptsDir, name)); err != nil {
		s.log.Error("failed storing upload", logx.String("file", name), logx.Err(err))
		return "", errors.New("could not store the uploaded file")
	}
	s.log.Info("workbench uploaded", logx.String("file", name), logx.Int64("bytes", hdr.Size))
	return name, nil
}

func (s *Server) writeUpload(src multipart.File, dst string) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if strings.TrimSpace(id) == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}
	if err := s.eng.DeleteJob(id); err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("failed deleting job", logx.String("job", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not delete the job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "job deleted"})
}

func (s *Server) handleRunScript(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScriptName string `json:"scriptName"`
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		_ = r.ParseForm()
		body.ScriptName = r.FormValue("scriptName")
	}
	if strings.TrimSpace(body.ScriptName) == "" {
		writeError(w, http.StatusBadRequest, "script name is required")
		return
	}
	if !s.runLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many manual runs, try again shortly")
		return
	}

	// Fire-and-forget: the response never reflects execution outcome.
	s.eng.RunNow(body.ScriptName)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "script " + body.ScriptName + " is running",
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	runs, err := s.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("failed reading run history", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "could not read run history")
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.LogsDir)
	if err != nil {
		writeJSON(w, http.StatusOK, []string{})
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleReadLog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if !logFileName.MatchString(name) {
		http.Error(w, "invalid file name", http.StatusBadRequest)
		return
	}
	f, err := os.Open(filepath.Join(s.cfg.LogsDir, name))
	if err != nil {
		http.Error(w, "log file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.Copy(w, f)
}

// parseRunTime accepts RFC 3339 plus the datetime-local formats browsers
// submit (no zone means server-local time).
func parseRunTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, raw)
		} else {
			t, err = time.ParseInLocation(layout, raw, time.Local)
		}
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized time format")
}

// parseDays handles both repeated form values and a single comma-separated
// value, matching what the UI submits.
func parseDays(values []string) []int {
	var out []int
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if n, err := strconv.Atoi(part); err == nil {
				out = append(out, n)
			}
		}
	}
	return out
}
