package weblink

import "time"

// Queue channels carrying IngestionJob payloads.
const (
	ChannelProcessLink       = "process_link"
	ChannelProcessLinkByUser = "process_link_by_user"
)

// IngestionJob is the queue payload for both ingestion channels.
type IngestionJob struct {
	URL                   string `json:"url"`
	UserID                string `json:"userId,omitempty"`
	Title                 string `json:"title,omitempty"`
	Origin                string `json:"origin,omitempty"`
	OriginPageURL         string `json:"originPageUrl,omitempty"`
	OriginPageTitle       string `json:"originPageTitle,omitempty"`
	OriginPageDescription string `json:"originPageDescription,omitempty"`
	// StorageKey points at client-uploaded raw HTML.
	StorageKey    string `json:"storageKey,omitempty"`
	LastVisitTime int64  `json:"lastVisitTime,omitempty"` // unix millis
	VisitCount    int    `json:"visitCount,omitempty"`
	ReadTime      int64  `json:"readTime,omitempty"`
	RetryTimes    int    `json:"retryTimes"`
}

// VisitedAt returns the submission's visit time, or now when none was supplied.
func (j IngestionJob) VisitedAt(now time.Time) time.Time {
	if j.LastVisitTime <= 0 {
		return now
	}
	return time.UnixMilli(j.LastVisitTime).UTC()
}

// ParseSource is where the document for this job comes from.
func (j IngestionJob) ParseSource() ParseSource {
	if j.StorageKey != "" {
		return ParseSourceClientUpload
	}
	return ParseSourceServerCrawl
}

// QueueKey groups queue rows belonging to the same canonical URL.
func (j IngestionJob) QueueKey() string {
	return j.URL
}
