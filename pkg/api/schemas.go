package api

import (
	"time"

	"github.com/quatton/mam/pkg/assets"
	"github.com/quatton/mam/pkg/jobqueue"
)

type PresignRequest struct {
	Key           string `json:"key" doc:"Staging object key"`
	ContentType   string `json:"contentType,omitempty" required:"false" doc:"MIME type the upload will be sent with"`
	ContentLength int64  `json:"contentLength,omitempty" required:"false" minimum:"0" doc:"Upload size in bytes"`
	Expires       int    `json:"expires,omitempty" required:"false" doc:"URL lifetime in seconds (60-3600)"`
}

type PresignResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	Bucket    string `json:"bucket"`
	ExpiresIn int    `json:"expiresIn"`
}

type PromoteRequest struct {
	StagingKey string `json:"stagingKey" doc:"Key of the uploaded object in the staging bucket"`
	Metadata   any    `json:"metadata,omitempty" required:"false" doc:"Flat object of string, number or boolean values"`
}

type SignPreviewRequest struct {
	AssetID       string `json:"assetId,omitempty" required:"false"`
	PreviewPrefix string `json:"previewPrefix,omitempty" required:"false"`
}

type SignPreviewResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RetryResponse struct {
	Asset   *assets.Asset `json:"asset"`
	Retried bool          `json:"retried" doc:"False when a build was already scheduled"`
}

type DeadLettersResponse struct {
	DeadLetters []jobqueue.DeadLetter `json:"deadLetters"`
}

type PendingEntry struct {
	EntryID    string `json:"entryId"`
	Consumer   string `json:"consumer"`
	IdleMS     int64  `json:"idleMs"`
	Deliveries int64  `json:"deliveries"`
}

type PendingResponse struct {
	Pending []PendingEntry `json:"pending"`
}

type HealthResponse struct {
	OK      bool              `json:"ok"`
	Service string            `json:"service"`
	Time    time.Time         `json:"time"`
	Checks  map[string]string `json:"checks"`
}
