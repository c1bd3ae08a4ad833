package models

import "time"

// SearchRecord is the archived summary of a finished quote search.
type SearchRecord struct {
	JobID            string `gorm:"primaryKey;size:64"`
	ZipCode          string `gorm:"size:16;index"`
	City             string `gorm:"size:128"`
	Category         string `gorm:"size:128;index"`
	Subcategory      string `gorm:"size:128"`
	ProblemSummary   string `gorm:"type:text"`
	ScopeOfWork      string `gorm:"type:text"`
	Outcome          string `gorm:"size:16;index"` // complete, error
	ErrorMsg         string `gorm:"type:text"`
	TotalContractors int
	CreatedAt        time.Time
	CompletedAt      time.Time `gorm:"index"`

	Workers     []SearchWorker     `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
	Contractors []SearchContractor `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

// SearchWorker is the archived terminal state of one platform worker.
type SearchWorker struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	JobID       string `gorm:"size:64;index"`
	Platform    string `gorm:"size:32"`
	Status      string `gorm:"size:16"`
	ErrorMsg    string `gorm:"type:text"`
	LiveViewURL string `gorm:"size:512"`
	Logs        string `gorm:"type:mediumtext"` // JSON array of LogEntry
	StartedAt   time.Time
	EndedAt     *time.Time
}

// SearchContractor is an archived contractor lead.
type SearchContractor struct {
	ID          uint    `gorm:"primaryKey;autoIncrement"`
	JobID       string  `gorm:"size:64;index"`
	LeadID      string  `gorm:"size:128"`
	Platform    string  `gorm:"size:32;index"`
	Name        string  `gorm:"size:256"`
	Rating      float64
	ReviewCount int
	ProfileURL  string `gorm:"size:1024"`
	Payload     string `gorm:"type:mediumtext"` // full Contractor as JSON
}
