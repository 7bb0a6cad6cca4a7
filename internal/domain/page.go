package domain

import "time"

// PageType classifies a page within the printed book.
type PageType string

const (
	PageTypeCover   PageType = "cover"
	PageTypeContent PageType = "content"
	PageTypeBack    PageType = "back"
)

// BookPage holds the text and illustration for one page. A book has at most
// one row per page number.
type BookPage struct {
	ID                 string
	BookID             string
	PageNumber         int
	PageType           PageType
	Text               string
	IllustrationPrompt string
	IllustrationPath   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
