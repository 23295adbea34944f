package schema

// BackupVersion is the version written into new backup documents.
const BackupVersion = "1.0.0"

// Document is a self-contained backup of settings and session history.
type Document struct {
	Version   string   `json:"version"`
	Timestamp string   `json:"timestamp"`
	Settings  Settings `json:"settings"`
	Stats     Stats    `json:"stats"`
}

// Stats holds the session log of a backup document.
type Stats struct {
	Completed []Entry `json:"completed"`
}
