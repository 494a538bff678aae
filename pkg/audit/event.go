package audit

import "time"

// Event is one access-audit record, shaped like the envelope the object
// store's audit channel emits: top-level routing fields plus a detail
// payload carrying the API call parameters. Unknown fields in the wire
// form are ignored on decode.
type Event struct {
	ID         string    `json:"id,omitempty"`
	Source     string    `json:"source"`
	DetailType string    `json:"detail-type,omitempty"`
	Time       time.Time `json:"time"`
	Detail     Detail    `json:"detail"`
}

// Detail is the audited API call.
type Detail struct {
	EventName         string        `json:"eventName"`
	RequestParameters RequestParams `json:"requestParameters"`
	UserIdentity      string        `json:"userIdentity,omitempty"`
	SourceIPAddress   string        `json:"sourceIPAddress,omitempty"`
}

// RequestParams locates the accessed object.
type RequestParams struct {
	BucketName string `json:"bucketName"`
	Key        string `json:"key"`
}

// Bucket returns the accessed container name.
func (e Event) Bucket() string { return e.Detail.RequestParameters.BucketName }

// Key returns the accessed object identifier.
func (e Event) Key() string { return e.Detail.RequestParameters.Key }

// EventName returns the audited operation kind.
func (e Event) EventName() string { return e.Detail.EventName }

// NewReadEvent builds a read-access event for the given object. The id is
// left empty; producers that want dedup-safe delivery set it themselves.
func NewReadEvent(source, bucket, key string) Event {
	return Event{
		Source:     source,
		DetailType: "Object Access",
		Time:       time.Now().UTC(),
		Detail: Detail{
			EventName: "GetObject",
			RequestParameters: RequestParams{
				BucketName: bucket,
				Key:        key,
			},
		},
	}
}
