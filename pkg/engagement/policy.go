package engagement

// MediaPolicy is the per-engagement configuration gating what the visitor
// may attach. Fetched after an operator connects; the zero value gates
// everything.
type MediaPolicy struct {
	AttachmentsAllowed bool     `json:"attachments_allowed"`
	AllowedMIMETypes   []string `json:"allowed_mime_types,omitempty"`
	MaxAttachmentBytes int64    `json:"max_attachment_bytes,omitempty"`
}
