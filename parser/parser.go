package parser

import (
	"log/slog"
	"strings"

	"github.com/aluiziolira/books-etl/models"
	"github.com/shopspring/decimal"
)

var ratings = map[string]models.Rating{
	"One":   models.RatingOne,
	"Two":   models.RatingTwo,
	"Three": models.RatingThree,
	"Four":  models.RatingFour,
	"Five":  models.RatingFive,
}

// Normalize coerces every raw book into its typed form, preserving order.
// An empty input yields nil.
func Normalize(raw []models.RawBook) []models.Book {
	if len(raw) == 0 {
		return nil
	}

	books := make([]models.Book, 0, len(raw))
	for _, r := range raw {
		books = append(books, NormalizeBook(r))
	}
	return books
}

// NormalizeBook converts a single raw book.
func NormalizeBook(r models.RawBook) models.Book {
	book := models.Book{
		Title:  NormalizeTitle(r.Title),
		Rating: RatingToNumeric(r.Rating),
	}

	price, err := NormalizePrice(r.Price)
	if err != nil {
		// Only reachable for inputs such as "1.2.3" after stripping.
		slog.Warn("unparseable price, storing zero",
			slog.String("title", book.Title),
			slog.String("price", r.Price),
			slog.Any("error", err),
		)
	}
	book.Price = price
	return book
}

// NormalizePrice keeps only digits and dots and parses the remainder as a
// decimal. An empty remainder is zero.
func NormalizePrice(price string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, price)
	if cleaned == "" {
		cleaned = "0"
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// RatingToNumeric maps the word-form rating label to the 1-5 scale. Unknown
// labels map to models.RatingUnknown.
func RatingToNumeric(label string) models.Rating {
	return ratings[label]
}

// NormalizeTitle trims surrounding whitespace.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(title)
}
