package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// FileWriteHandler handles file write operations.
type FileWriteHandler struct{}

// Handle writes content to a file.
func (h *FileWriteHandler) Handle(ctx context.Context, params *protocol.FileWriteParams, eventCh chan<- *protocol.EventMessage) (*protocol.FileWriteResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	result := &protocol.FileWriteResult{}

	_, err := os.Stat(params.Path)
	fileExists := err == nil

	if !fileExists && !params.Create {
		return nil, fmt.Errorf("file does not exist and create=false: %s", params.Path)
	}

	if params.Backup && fileExists {
		backupPath := params.Path + ".bak"
		if err := copyFile(params.Path, backupPath); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupPath = backupPath
	}

	if err := os.MkdirAll(filepath.Dir(params.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	content := []byte(params.Content)
	if err := os.WriteFile(params.Path, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	result.BytesWritten = int64(len(content))
	result.Created = !fileExists

	if params.Mode != "" {
		mode, err := strconv.ParseUint(params.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode: %w", err)
		}
		if err := os.Chmod(params.Path, os.FileMode(mode)); err != nil {
			return nil, fmt.Errorf("failed to set mode: %w", err)
		}
	}

	hash := sha256.Sum256(content)
	result.Checksum = fmt.Sprintf("%x", hash)

	return result, nil
}

// FileReadHandler handles file read operations.
type FileReadHandler struct{}

// Handle reads content from a file.
func (h *FileReadHandler) Handle(ctx context.Context, params *protocol.FileReadParams, eventCh chan<- *protocol.EventMessage) (*protocol.FileReadResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	info, err := os.Stat(params.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	result := &protocol.FileReadResult{
		Size: info.Size(),
		Mode: fmt.Sprintf("%04o", info.Mode().Perm()),
	}

	maxBytes := params.MaxBytes
	if maxBytes == 0 {
		maxBytes = 10 * 1024 * 1024 // 10 MB default limit
	}

	file, err := os.Open(params.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, maxBytes)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	content := buf[:n]
	result.Content = string(content)
	result.Truncated = int64(n) >= maxBytes

	hash := sha256.Sum256(content)
	result.Checksum = fmt.Sprintf("%x", hash)

	return result, nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}
