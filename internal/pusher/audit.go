package pusher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AuditFileName is the request log written under the output directory
const AuditFileName = "api_requests.log"

const auditBodyLimit = 200

// auditLog appends one block per push request
type auditLog struct {
	mu   sync.Mutex
	file *os.File
}

func openAuditLog(dir string) (*auditLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, AuditFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %s: %w", path, err)
	}
	return &auditLog{file: f}, nil
}

// record writes the request and either its response or its transport error
func (a *auditLog) record(ts time.Time, endpoint string, body []byte, status int, response string, reqErr error) {
	if a == nil {
		return
	}
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 80))
	fmt.Fprintf(&b, "\n[%s] POST %s\n", ts.Format(time.DateTime), endpoint)
	fmt.Fprintf(&b, "Request: %s\n", body)
	if reqErr != nil {
		fmt.Fprintf(&b, "Error: %v\n", reqErr)
	} else {
		fmt.Fprintf(&b, "Response: HTTP %d - %s\n", status, truncate(response, auditBodyLimit))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// audit failures never fail a push
	_, _ = a.file.WriteString(b.String())
}

func (a *auditLog) close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
