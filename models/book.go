// Package models defines data structures shared by the pipeline steps.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawBook is a catalogue entry exactly as scraped from a listing page.
type RawBook struct {
	Title  string `json:"title"`
	Price  string `json:"price"`
	Rating string `json:"rating"`
}

// Rating is the 1-5 star scale used by the catalogue. The zero value means
// the label could not be mapped.
type Rating int

// Known ratings.
const (
	RatingUnknown Rating = iota
	RatingOne
	RatingTwo
	RatingThree
	RatingFour
	RatingFive
)

// Valid reports whether r is one of the five known ratings.
func (r Rating) Valid() bool {
	return r >= RatingOne && r <= RatingFive
}

// Int returns the rating as a nullable integer for storage.
func (r Rating) Int() *int {
	if !r.Valid() {
		return nil
	}
	v := int(r)
	return &v
}

// Book is a normalized catalogue entry ready to be persisted.
type Book struct {
	Title  string          `csv:"title" json:"title"`
	Price  decimal.Decimal `csv:"price" json:"price"`
	Rating Rating          `csv:"rating" json:"rating,omitempty"`
}

// BookRecord is one row of the append-only books history table.
type BookRecord struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string          `gorm:"column:title;type:text;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric"`
	Rating    *int            `gorm:"column:rating;type:int"`
	CreatedAt time.Time       `gorm:"column:created_at;type:timestamp;default:CURRENT_TIMESTAMP;autoCreateTime:false"`
}

// TableName overrides the table name.
func (BookRecord) TableName() string {
	return "books"
}

// StepStatus is the terminal state of one pipeline step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepSkipped StepStatus = "skipped"
	StepFailed  StepStatus = "failed"
)

// StepResult records what a single step did during a run.
type StepResult struct {
	Name     string
	Status   StepStatus
	Items    int
	Note     string
	Duration time.Duration
}

// RunResult holds the overall result of one pipeline run.
type RunResult struct {
	RunID      string
	Pipeline   string
	Tags       []string
	Status     StepStatus
	StartTime  time.Time
	EndTime    time.Time
	StopReason string
	PageCount  int
	Collected  int
	Normalized int
	Persisted  int
	States     []string
	Steps      []StepResult
}
