package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
)

// maxOutputSize is the maximum number of bytes read from a collaborator's stdout/stderr (1MB)
const maxOutputSize = 1024 * 1024

// runCommand runs a collaborator subprocess with input marshalled as JSON on
// stdin and returns its stdout. The caller bounds the run through ctx.
//
// A non-zero exit code, a killed process or output over the size limit is an
// error; stderr is included in the error for diagnosis.
func runCommand(ctx context.Context, command []string, dir string, input any) (string, error) {
	if len(command) == 0 {
		return "", fmt.Errorf("command array is empty")
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal collaborator input: %w", err)
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = dir

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start process: %w", err)
	}

	// Write input JSON to stdin and close pipe
	go func() {
		defer stdinPipe.Close()
		if _, err := stdinPipe.Write(inputJSON); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Printf("[Collab] Failed to write to stdin of %s: %v", command[0], err)
		}
	}()

	err = cmd.Wait()
	stdout := stdoutBuf.String()
	stderr := strings.TrimSpace(stderrBuf.String())

	if stdoutBuf.Len() >= maxOutputSize {
		return "", fmt.Errorf("collaborator output exceeded %d bytes", maxOutputSize)
	}

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("process exited with code %d: %s", exitErr.ExitCode(), truncate(stderr, 500))
		}
		return "", err
	}

	return stdout, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err // Return len(p) to satisfy the writer interface
}

// truncate limits a string to maxLen bytes, appending "..." if truncated
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
