package notify

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// NotifyWriteChunkSize is the chunk size when writing payload to Unix socket (avoid large single write).
const NotifyWriteChunkSize = 32 * 1024 // 32KB

// MaxNotifyErrors is how many row errors a job notification carries.
const MaxNotifyErrors = 5

// NotifyHub receives every notification for websocket broadcast.
type NotifyHub interface {
	Broadcast(notification *types.Notification)
}

// Configuration for Unix Domain Socket notification
var (
	// DefaultUnixSocketPath is the default Unix socket path for IPC
	DefaultUnixSocketPath = "/tmp/csvjobs-notify.sock"
	// UnixSocketTimeout is the timeout for Unix socket operations
	UnixSocketTimeout = 3 * time.Second
	UseNotify         = true

	hubMu sync.RWMutex
	hub   NotifyHub
)

// SetUseNotify sets whether to use the unix socket
func SetUseNotify(use bool) {
	UseNotify = use
}

// SetSocketPath overrides DefaultUnixSocketPath when path is set.
func SetSocketPath(path string) {
	if path != "" {
		DefaultUnixSocketPath = path
	}
}

// SetNotifyHub sets the hub that mirrors notifications to websocket clients. nil disables it.
func SetNotifyHub(h NotifyHub) {
	hubMu.Lock()
	defer hubMu.Unlock()
	hub = h
}

// NotifyWSEnabled reports whether a websocket hub is attached.
func NotifyWSEnabled() bool {
	hubMu.RLock()
	defer hubMu.RUnlock()
	return hub != nil
}

// Broadcast hands notification to the websocket hub only.
func Broadcast(notification *types.Notification) {
	if notification == nil {
		return
	}
	if notification.ID == "" {
		notification.ID = tool.GenerateRandomUUID()
	}
	hubMu.RLock()
	h := hub
	hubMu.RUnlock()
	if h != nil {
		h.Broadcast(notification)
	}
}

// SendNotification broadcasts notification to the hub and sends it via Unix Domain Socket
func SendNotification(notification *types.Notification, socketPath string) error {
	Broadcast(notification)
	if !UseNotify {
		return nil
	}
	if socketPath == "" {
		socketPath = DefaultUnixSocketPath
	}

	// Check if socket file exists
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return fmt.Errorf("unix socket not found: %s (is a notification listener running?)", socketPath)
	}

	var payload []byte
	var err error
	if notification != nil {
		payload, err = sonic.Marshal(notification)
		if err != nil {
			return fmt.Errorf("failed to serialize notification data: %v", err)
		}
	} else {
		payload = []byte("{}")
	}

	// Reject payload over 32KB
	if len(payload) > NotifyWriteChunkSize {
		return fmt.Errorf("notification payload too large: %d bytes (max %d)", len(payload), NotifyWriteChunkSize)
	}

	conn, err := net.DialTimeout("unix", socketPath, UnixSocketTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to Unix socket %s: %v", socketPath, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			tool.DefaultLogger.Errorf("Failed to close Unix socket connection: %v", err)
		}
	}()

	err = conn.SetWriteDeadline(time.Now().Add(UnixSocketTimeout))
	if err != nil {
		tool.DefaultLogger.Errorf("Failed to set write deadline: %v", err)
	}

	// Send length prefix (4 bytes, little-endian uint32) then payload
	lengthBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthBuf, uint32(len(payload)))
	if _, err = conn.Write(lengthBuf); err != nil {
		return fmt.Errorf("failed to write length to Unix socket: %v", err)
	}
	tool.DefaultLogger.Debugf("Sending notification to Unix socket (len=%d): %s", len(payload), payload)
	if _, err = conn.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload to Unix socket: %v", err)
	}

	err = conn.SetReadDeadline(time.Now().Add(UnixSocketTimeout))
	if err != nil {
		tool.DefaultLogger.Errorf("Failed to set read deadline: %v", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read response from Unix socket: %v", err)
	}

	var response map[string]any
	if n > 0 {
		if err := sonic.Unmarshal(buf[:n], &response); err != nil {
			tool.DefaultLogger.Debugf("Unix socket response (raw): %s", string(buf[:n]))
		} else {
			tool.DefaultLogger.Debugf("Unix socket response: %v", response)
			if errMsg, ok := response["error"].(string); ok && errMsg != "" {
				return fmt.Errorf("server returned error: %s", errMsg)
			}
		}
	}

	if notification != nil {
		tool.DefaultLogger.Infof("[UnixSocket] Notification sent: %s - %s", notification.Type, notification.Title)
	} else {
		tool.DefaultLogger.Infof("[UnixSocket] Notification sent")
	}
	return nil
}

// SendJobFinishedNotification reports a job that reached completed or failed.
func SendJobFinishedNotification(job types.Job) error {
	notification := &types.Notification{
		Type:    types.NotifyTypeJobCompleted,
		Title:   "Job Completed",
		Message: fmt.Sprintf("%s: %d succeeded, %d failed", job.Filename, job.SuccessCount, job.FailedCount),
		Data: map[string]any{
			"jobId":         job.ID,
			"filename":      job.Filename,
			"status":        string(job.Status),
			"totalRows":     job.TotalRows,
			"processedRows": job.ProcessedRows,
			"successCount":  job.SuccessCount,
			"failedCount":   job.FailedCount,
		},
	}
	if job.Status == types.JobStatusFailed {
		notification.Type = types.NotifyTypeJobFailed
		notification.Title = "Job Failed"
	}
	// Keep payload bounded, the full list is in the error report
	if len(job.Errors) > 0 {
		errs := job.Errors
		if len(errs) > MaxNotifyErrors {
			errs = errs[:MaxNotifyErrors]
			notification.Data["totalErrors"] = len(job.Errors)
		}
		notification.Data["errors"] = errs
	}
	return SendNotification(notification, DefaultUnixSocketPath)
}

// SendUploadNotification reports an accepted upload.
func SendUploadNotification(jobID, filename string) error {
	notification := &types.Notification{
		Type:    types.NotifyTypeUploadDone,
		Title:   "Upload Completed",
		Message: fmt.Sprintf("Uploaded! Job ID: %s", jobID),
		Data: map[string]any{
			"jobId":    jobID,
			"filename": filename,
		},
	}
	return SendNotification(notification, DefaultUnixSocketPath)
}

// SendSimpleNotification sends a simple text notification
func SendSimpleNotification(title, message string) error {
	notification := &types.Notification{
		Type:    types.NotifyTypeInfo,
		Title:   title,
		Message: message,
	}
	return SendNotification(notification, DefaultUnixSocketPath)
}
