package documents

import "time"

// Status is the analysis lifecycle state of a document.
type Status string

const (
	StatusUploaded  Status = "uploaded"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusAnalyzing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document represents an uploaded file and its analysis state.
type Document struct {
	ID             int64
	OwnerID        int64
	OriginalName   string
	MimeType       string
	BlobKey        string
	SizeBytes      int64
	Status         Status
	AnalysisResult *string
	CreatedAt      time.Time
}

// Filter selects documents for FindMany. Empty Status matches any status;
// empty IDs applies no id restriction.
type Filter struct {
	OwnerID int64
	Status  Status
	IDs     []int64
}

// Patch is a batch status update. AnalysisResult is kept only when Status is
// StatusCompleted; every other status clears the stored result.
type Patch struct {
	Status         Status
	AnalysisResult *string
}

func (p Patch) result() *string {
	if p.Status != StatusCompleted {
		return nil
	}
	out := ""
	if p.AnalysisResult != nil {
		out = *p.AnalysisResult
	}
	return &out
}

func (d Document) clone() Document {
	if d.AnalysisResult != nil {
		v := *d.AnalysisResult
		d.AnalysisResult = &v
	}
	return d
}
