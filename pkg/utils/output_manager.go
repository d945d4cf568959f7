package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputManager handles output file organization and path management
type OutputManager struct {
	BaseOutputDir string
}

// NewOutputManager creates a new output manager
func NewOutputManager(baseOutputDir string) *OutputManager {
	return &OutputManager{
		BaseOutputDir: baseOutputDir,
	}
}

// CreateRunOutputDir creates the per-run directory for a run's outputs
func (om *OutputManager) CreateRunOutputDir(runID string) (string, error) {
	runDir := filepath.Join(om.BaseOutputDir, filepath.Base(runID))

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run output directory: %w", err)
	}
	return runDir, nil
}

// GetOutputFilePath generates a full path for an output file. Any directory
// part of fileName is dropped so outputs stay inside the run directory.
func (om *OutputManager) GetOutputFilePath(runID, fileName string) (string, error) {
	runDir, err := om.CreateRunOutputDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(runDir, filepath.Base(fileName)), nil
}

// ResolveDownload returns the path of an existing output file of a run.
func (om *OutputManager) ResolveDownload(runID, fileName string) (string, error) {
	if runID == "" || fileName == "" || strings.ContainsAny(runID+fileName, `/\`) || runID == ".." || fileName == ".." {
		return "", fmt.Errorf("invalid download path")
	}
	path := filepath.Join(om.BaseOutputDir, runID, fileName)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", fileName)
	}
	return path, nil
}

// GetDownloadURL generates a download URL for a file
func (om *OutputManager) GetDownloadURL(runID, fileName string) string {
	return fmt.Sprintf("/api/v1/download/%s/%s", runID, filepath.Base(fileName))
}

// GetFileType determines the file type based on extension
func (om *OutputManager) GetFileType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".json":
		return "json"
	case ".geojson":
		return "geojson"
	case ".js":
		return "js"
	case ".xlsx":
		return "excel"
	case ".csv":
		return "csv"
	default:
		return "unknown"
	}
}

// ContentType returns the MIME type served for a file
func (om *OutputManager) ContentType(fileName string) string {
	switch om.GetFileType(fileName) {
	case "json":
		return "application/json"
	case "geojson":
		return "application/geo+json"
	case "js":
		return "application/javascript"
	case "excel":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "csv":
		return "text/csv"
	default:
		return "application/octet-stream"
	}
}

// GetFileSize returns the size of a file in bytes
func (om *OutputManager) GetFileSize(filePath string) (int64, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, err
	}
	return fileInfo.Size(), nil
}

// EnsureOutputDirExists ensures the base output directory exists
func (om *OutputManager) EnsureOutputDirExists() error {
	return os.MkdirAll(om.BaseOutputDir, 0755)
}

// OutputFile describes one file written for a run
type OutputFile struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

// ListRunFiles lists the output files of a run, skipping in-progress temp
// files. A run without outputs yields an empty list.
func (om *OutputManager) ListRunFiles(runID string) ([]OutputFile, error) {
	runDir := filepath.Join(om.BaseOutputDir, filepath.Base(runID))
	entries, err := os.ReadDir(runDir)
	if os.IsNotExist(err) {
		return []OutputFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	files := make([]OutputFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		size, err := om.GetFileSize(filepath.Join(runDir, e.Name()))
		if err != nil {
			continue
		}
		files = append(files, OutputFile{
			Name:        e.Name(),
			Type:        om.GetFileType(e.Name()),
			Size:        size,
			DownloadURL: om.GetDownloadURL(runID, e.Name()),
		})
	}
	return files, nil
}
