package export

// Stats is the aggregate counter block of the manifest.
type Stats struct {
	Conversations    int `json:"conversations"`
	MessagesExported int `json:"messagesExported"`
	MediaExported    int `json:"mediaExported"`
	MediaMissing     int `json:"mediaMissing"`
	Errors           int `json:"errors"`
}

type manifestOptions struct {
	Format  string `json:"format"`
	Media   bool   `json:"media"`
	Privacy bool   `json:"privacy"`
}

// Manifest is the job-wide manifest.json document.
type Manifest struct {
	SchemaVersion int             `json:"schemaVersion"`
	GeneratedAt   string          `json:"generatedAt"`
	Accounts      []string        `json:"accounts"`
	Options       manifestOptions `json:"options"`
	Filters       filterInfo      `json:"filters"`
	Stats         Stats           `json:"stats"`
}

// MissingMedia is one unresolvable media item, reported with the requesting
// message so the gap can be traced back.
type MissingMedia struct {
	Conversation string `json:"conversation"`
	MessageID    string `json:"messageID"`
	Kind         string `json:"kind"`
	Identity     string `json:"identity,omitempty"`
}

// ReportError is one absorbed non-fatal failure.
type ReportError struct {
	Conversation string `json:"conversation,omitempty"`
	Context      string `json:"context"`
	Error        string `json:"error"`
}

// Report is the report.json document.
type Report struct {
	MissingMedia []MissingMedia `json:"missingMedia"`
	Errors       []ReportError  `json:"errors"`
}
