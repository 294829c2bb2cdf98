package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aluiziolira/books-etl/models"
)

// Exporter receives a snapshot of each normalized batch.
type Exporter interface {
	Write(books []models.Book) error
	Close() error
}

// NewExporter opens an exporter for format ("csv" or "json") at filename.
func NewExporter(format, filename string) (Exporter, error) {
	switch format {
	case "csv":
		return NewCSVExporter(filename)
	case "json":
		return NewJSONExporter(filename)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// CSVExporter writes normalized books as CSV with a header row.
type CSVExporter struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVExporter creates filename and writes the header row.
func NewCSVExporter(filename string) (*CSVExporter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(f)
	if err := writer.Write([]string{"title", "price", "rating"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return &CSVExporter{file: f, writer: writer}, nil
}

// Write appends books. Unknown ratings are written as an empty cell.
func (ce *CSVExporter) Write(books []models.Book) error {
	for _, book := range books {
		rating := ""
		if book.Rating.Valid() {
			rating = strconv.Itoa(int(book.Rating))
		}
		if err := ce.writer.Write([]string{book.Title, book.Price.String(), rating}); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	ce.writer.Flush()
	if err := ce.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (ce *CSVExporter) Close() error {
	ce.writer.Flush()
	if err := ce.writer.Error(); err != nil {
		ce.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return ce.file.Close()
}

// JSONExporter writes newline-delimited JSON records.
type JSONExporter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

// NewJSONExporter creates filename.
func NewJSONExporter(filename string) (*JSONExporter, error) {
	f, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	buffer := bufio.NewWriter(f)
	return &JSONExporter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// jsonRecord mirrors the CSV columns: price is a bare number and an unknown
// rating is null.
type jsonRecord struct {
	Title  string      `json:"title"`
	Price  json.Number `json:"price"`
	Rating *int        `json:"rating"`
}

// Write appends books in JSONL format.
func (je *JSONExporter) Write(books []models.Book) error {
	for _, book := range books {
		record := jsonRecord{
			Title:  book.Title,
			Price:  json.Number(book.Price.String()),
			Rating: book.Rating.Int(),
		}
		if err := je.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := je.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (je *JSONExporter) Close() error {
	if err := je.writer.Flush(); err != nil {
		je.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return je.file.Close()
}

func createFile(filename string) (*os.File, error) {
	if dir := filepath.Dir(filename); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	return f, nil
}
