package domain

import "time"

// BookStatus enumerates the user-facing lifecycle of a book.
type BookStatus string

const (
	BookStatusDraft        BookStatus = "draft"
	BookStatusGenerating   BookStatus = "generating"
	BookStatusPreviewReady BookStatus = "preview_ready"
	BookStatusPaid         BookStatus = "paid"
	BookStatusCompleted    BookStatus = "completed"
	BookStatusFailed       BookStatus = "failed"
)

// PreviewAvailable reports whether the cover and first page may be shown.
func (s BookStatus) PreviewAvailable() bool {
	switch s {
	case BookStatusPreviewReady, BookStatusPaid, BookStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the preview pipeline is finished with this book.
func (s BookStatus) Terminal() bool {
	return s.PreviewAvailable() || s == BookStatusFailed
}

// AgeBand is the reader age group a story is written for.
type AgeBand string

const (
	AgeBand3to4 AgeBand = "3-4"
	AgeBand5to6 AgeBand = "5-6"
	AgeBand7to9 AgeBand = "7-9"
)

func (a AgeBand) Valid() bool {
	switch a {
	case AgeBand3to4, AgeBand5to6, AgeBand7to9:
		return true
	}
	return false
}

// Tone is the overall mood of the story and its illustrations.
type Tone string

const (
	ToneGentle Tone = "gentle"
	ToneFunny  Tone = "funny"
	ToneBrave  Tone = "brave"
)

func (t Tone) Valid() bool {
	switch t {
	case ToneGentle, ToneFunny, ToneBrave:
		return true
	}
	return false
}

// Book is a personalised storybook request and the artifacts generated for it.
// Empty path and title fields mean the value has not been produced yet.
type Book struct {
	ID                 string
	ChildName          string
	AgeBand            AgeBand
	Interests          []string
	Tone               Tone
	MoralLesson        string
	SourcePhotoPath    string
	CharacterSheetPath string
	CoverImagePath     string
	Title              string
	Status             BookStatus
	ErrorMessage       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Storage buckets and deterministic object paths for book artifacts.
const (
	BucketUploads = "uploads"
	BucketImages  = "images"
)

func SourcePhotoPath(bookID, ext string) string { return bookID + "/source." + ext }
func CharacterSheetPath(bookID string) string  { return bookID + "/character_sheet.png" }
func CoverImagePath(bookID string) string      { return bookID + "/cover.png" }
func Page1ImagePath(bookID string) string      { return bookID + "/page_01.png" }
