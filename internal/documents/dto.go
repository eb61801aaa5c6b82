package documents

import "time"

// DocumentResponse is the outward-facing representation of a document.
type DocumentResponse struct {
	ID             int64     `json:"id"`
	OriginalName   string    `json:"originalName"`
	MimeType       string    `json:"mimeType"`
	SizeBytes      int64     `json:"sizeBytes"`
	Status         Status    `json:"status"`
	AnalysisResult *string   `json:"analysisResult"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toResponse(doc Document) DocumentResponse {
	return DocumentResponse{
		ID:             doc.ID,
		OriginalName:   doc.OriginalName,
		MimeType:       doc.MimeType,
		SizeBytes:      doc.SizeBytes,
		Status:         doc.Status,
		AnalysisResult: doc.AnalysisResult,
		CreatedAt:      doc.CreatedAt,
	}
}
