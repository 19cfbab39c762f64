package debug

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	enabled     = os.Getenv("CONCILIA_DEBUG") != ""
	verboseMode = false
	quietMode   = false
	logMutex    sync.Mutex
)

func Enabled() bool {
	return enabled || verboseMode
}

// SetVerbose enables verbose/debug output
func SetVerbose(verbose bool) {
	verboseMode = verbose
}

// SetQuiet enables quiet mode (suppress non-essential output)
func SetQuiet(quiet bool) {
	quietMode = quiet
}

// IsQuiet returns true if quiet mode is enabled
func IsQuiet() bool {
	return quietMode
}

func Logf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

func Printf(format string, args ...interface{}) {
	if enabled || verboseMode {
		fmt.Printf(format, args...)
	}
}

// PrintNormal prints output unless quiet mode is enabled
// Use this for normal informational output that should be suppressed in quiet mode
func PrintNormal(format string, args ...interface{}) {
	if !quietMode {
		fmt.Printf(format, args...)
	}
}

// PrintlnNormal prints a line unless quiet mode is enabled
func PrintlnNormal(args ...interface{}) {
	if !quietMode {
		fmt.Println(args...)
	}
}

// LogEvent writes an event to .concilia/events.log
// Format: TIMESTAMP|EVENT_CODE|JOB_ID|WORKER_ID|DETAILS
func LogEvent(eventCode string, jobID int64, details string) {
	LogEventWithWorker(eventCode, jobID, "", details)
}

// LogEventWithWorker writes an event with an explicit worker identity
func LogEventWithWorker(eventCode string, jobID int64, workerID, details string) {
	// Find project root
	projectRoot, err := findProjectRoot()
	if err != nil {
		// Silent fail if not in a project
		return
	}

	logPath := filepath.Join(projectRoot, ".concilia", "events.log")

	if workerID == "" {
		workerID = os.Getenv("CONCILIA_WORKER_ID")
		if workerID == "" {
			workerID = fmt.Sprintf("pid-%d", os.Getpid())
		}
	}

	jobRef := "none"
	if jobID > 0 {
		jobRef = fmt.Sprintf("%d", jobID)
	}

	// Format event
	timestamp := time.Now().UTC().Format(time.RFC3339)
	entry := fmt.Sprintf("%s|%s|%s|%s|%s\n",
		timestamp, eventCode, jobRef, workerID, details)

	// Thread-safe write
	logMutex.Lock()
	defer logMutex.Unlock()

	// Ensure directory exists
	os.MkdirAll(filepath.Dir(logPath), 0755)

	// Append to log file
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Silent fail - don't interrupt operations if logging fails
		return
	}
	defer file.Close()

	file.WriteString(entry)
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		conciliaDir := filepath.Join(dir, ".concilia")
		if info, err := os.Stat(conciliaDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a concilia project")
		}
		dir = parent
	}
}
