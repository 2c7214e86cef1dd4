package model

import (
	"fmt"
	"strings"
)

// ReportDeliverable is one discovered report artifact pending retrieval and
// upload. Content starts nil and is filled exactly once by the fetch stage;
// a deliverable whose fetch failed keeps nil Content and is never uploaded.
type ReportDeliverable struct {
	TaskID      string
	Path        string
	Ext         string
	ContentType string
	Product     *Product
	Content     []byte
}

// NewReportDeliverable derives the artifact kind from the path extension.
// Only xml and csv reports are importable; anything else is an error.
func NewReportDeliverable(taskID, path string, product *Product) (*ReportDeliverable, error) {
	clean := strings.Trim(path, "/")
	ext := clean[strings.LastIndex(clean, ".")+1:]
	if ext != "xml" && ext != "csv" {
		return nil, fmt.Errorf("%w: %q", ErrBadExtension, path)
	}
	contentType := "text/csv"
	if ext == "xml" {
		contentType = "application/xml"
	}
	return &ReportDeliverable{
		TaskID:      taskID,
		Path:        clean,
		Ext:         ext,
		ContentType: contentType,
		Product:     product,
	}, nil
}

// FileName is the name the artifact is uploaded under.
func (d *ReportDeliverable) FileName() string {
	return fmt.Sprintf("nessus_%s.%s", d.TaskID, d.Ext)
}
