package handlers

import (
	"bufio"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"strconv"

	"github.com/spf13/afero"
)

const (
	defaultLogLines = 200
	maxLogLines     = 5000
)

// LogsHandler serves the tail of the application log file.
type LogsHandler struct {
	fs   afero.Fs
	path string
}

// NewLogsHandler creates a logs handler reading path from fsys.
func NewLogsHandler(fsys afero.Fs, path string) *LogsHandler {
	return &LogsHandler{fs: fsys, path: path}
}

// Tail returns the last N lines of the log file as plain text.
// GET /logs?lines=200
func (h *LogsHandler) Tail(w http.ResponseWriter, r *http.Request) {
	if h.path == "" {
		http.Error(w, "file logging disabled", http.StatusNotFound)
		return
	}

	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			http.Error(w, "lines must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(parsed, maxLogLines)
	}

	lines, err := tailFile(h.fs, h.path, n)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "log file not found", http.StatusNotFound)
			return
		}
		log.Printf("[logs] read %s: %v", h.path, err)
		http.Error(w, "failed to read log file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	bw := bufio.NewWriter(w)
	for _, line := range lines {
		bw.WriteString(line)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		log.Printf("[logs] write response: %v", err)
	}
}

// tailFile keeps the last n lines in a ring buffer while scanning.
func tailFile(fsys afero.Fs, path string, n int) ([]string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}
