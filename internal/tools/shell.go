package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	// maxCommandLen caps input size before validation.
	maxCommandLen = 1000
	// maxStreamBytes caps the captured size of stdout and stderr,
	// each truncated independently.
	maxStreamBytes = 100 * 1024

	defaultShellTimeout = 30 * time.Second
	maxShellTimeout     = 120 * time.Second

	// restrictedPath is the only environment handed to the child.
	restrictedPath = "/usr/local/bin:/usr/bin:/bin"
)

// dangerousPatterns is an injection deny-list, not a sandbox: a command
// matching any entry is rejected before anything executes.
var dangerousPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`[;&|]`), "command chaining"},
	{regexp.MustCompile("\\$\\(|`"), "command substitution"},
	{regexp.MustCompile(`>+\s*/dev/`), "device file redirection"},
	{regexp.MustCompile(`\brm\s+(-[a-zA-Z]+\s+)*/(\s|$)`), "recursive delete of root"},
}

// secretPattern matches credential-looking tokens in a command line so
// logs never carry their values.
var secretPattern = regexp.MustCompile(`(?i)(password|token|key|secret|auth)(\s*[=:]\s*)\S+`)

// absolutePath matches absolute filesystem path tokens in error text:
// a slash at the start of the text or of a token, not interior slashes
// in words like "fork/exec".
var absolutePath = regexp.MustCompile(`(^|[\s"'=(])(/[^\s:'"]+)`)

// ShellCommand returns the guarded shell execution tool.
func ShellCommand(logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{
		Name:        "shell_command",
		Description: "Execute a shell command and return its output. Use for file operations, system queries, etc. Be cautious with destructive commands.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute, e.g., 'ls -la', 'echo hello', 'date'",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Maximum execution time in seconds (default: 30)",
				},
			},
			"required": []string{"command"},
		},
		Run: func(ctx context.Context, args map[string]any) string {
			command, ok := stringArg(args, "command")
			if !ok {
				return "Error: command must be a string"
			}
			timeout := defaultShellTimeout
			if raw, ok := args["timeout"]; ok {
				seconds, ok := raw.(float64)
				if !ok || seconds <= 0 {
					return "Error: timeout must be a positive number of seconds"
				}
				timeout = time.Duration(seconds) * time.Second
				if timeout > maxShellTimeout {
					timeout = maxShellTimeout
				}
			}
			return RunShell(ctx, logger, command, timeout)
		},
	}
}

// RunShell validates and executes a shell command under a bounded
// timeout with a minimal environment, capturing stdout and stderr
// independently. The result is always a string: output on success, an
// "Error: ..." description otherwise.
func RunShell(ctx context.Context, logger *slog.Logger, command string, timeout time.Duration) string {
	if strings.TrimSpace(command) == "" {
		return "Error: Command cannot be empty"
	}
	if len(command) > maxCommandLen {
		return fmt.Sprintf("Error: Command exceeds %d characters", maxCommandLen)
	}
	for _, p := range dangerousPatterns {
		if p.re.MatchString(command) {
			logger.Warn("rejected shell command", "reason", p.reason, "command", redactSecrets(command))
			return fmt.Sprintf("Error: Command rejected: %s is not allowed", p.reason)
		}
	}

	logger.Info("executing shell command", "command", redactSecrets(command), "timeout", timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Env = []string{"PATH=" + restrictedPath}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("Error: Command timed out after %d seconds", int(timeout.Seconds()))
	}
	if runCtx.Err() == context.Canceled {
		return "Error: Command cancelled"
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return fmt.Sprintf("Error: Command execution failed: %s", stripPaths(err.Error()))
	}

	var out strings.Builder
	out.WriteString(truncateStream(stdout.Bytes()))
	if stderr.Len() > 0 {
		out.WriteString("\n[stderr]:\n")
		out.WriteString(truncateStream(stderr.Bytes()))
	}
	if code := cmd.ProcessState.ExitCode(); code != 0 {
		fmt.Fprintf(&out, "\n[exit code: %d]", code)
	}
	if out.Len() == 0 {
		return "(no output)"
	}
	return out.String()
}

// truncateStream bounds one captured stream, annotating the cut.
func truncateStream(b []byte) string {
	if len(b) <= maxStreamBytes {
		return string(b)
	}
	return string(b[:maxStreamBytes]) + "\n[output truncated]"
}

// redactSecrets masks credential-looking values before logging.
func redactSecrets(s string) string {
	return secretPattern.ReplaceAllString(s, "$1$2[REDACTED]")
}

// stripPaths reduces filesystem paths in error text to their final
// element so failures do not leak local directory layout.
func stripPaths(s string) string {
	return absolutePath.ReplaceAllStringFunc(s, func(m string) string {
		i := strings.IndexByte(m, '/')
		return m[:i] + filepath.Base(m[i:])
	})
}
