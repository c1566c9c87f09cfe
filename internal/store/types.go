package store

// JobRecord is a finished export job as persisted in the history database.
type JobRecord struct {
	ID            string
	AccountID     string
	Status        string
	Format        string
	OutputPath    string
	Conversations int
	Messages      int
	MediaExported int
	MediaMissing  int
	Errors        int
	ErrorText     string
	StartedAt     int64
	FinishedAt    int64
}
