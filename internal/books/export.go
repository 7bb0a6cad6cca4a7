package books

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/storage"
	"github.com/tkendall99/bedtime-solved/pkg/zip"
)

type exportManifest struct {
	BookID    string            `json:"bookId"`
	ChildName string            `json:"childName"`
	AgeBand   domain.AgeBand    `json:"ageBand"`
	Interests []string          `json:"interests"`
	Tone      domain.Tone       `json:"tone"`
	Lesson    string            `json:"moralLesson,omitempty"`
	Status    domain.BookStatus `json:"status"`
	Title     string            `json:"title,omitempty"`
	Page1Text string            `json:"page1Text,omitempty"`
	Files     []string          `json:"files"`
}

// Export writes a zip of the book's stored artifacts plus a book.json
// manifest. Artifacts not produced yet are left out.
func (s *Service) Export(ctx context.Context, bookID string, w io.Writer) error {
	book, err := s.books.Get(ctx, bookID)
	if err != nil {
		return err
	}
	m := exportManifest{
		BookID:    book.ID,
		ChildName: book.ChildName,
		AgeBand:   book.AgeBand,
		Interests: book.Interests,
		Tone:      book.Tone,
		Lesson:    book.MoralLesson,
		Status:    book.Status,
		Title:     book.Title,
	}

	page, err := s.pages.Get(ctx, bookID, 1)
	switch {
	case err == nil:
		m.Page1Text = page.Text
	case errors.Is(err, domain.ErrNotFound):
		page = &domain.BookPage{}
	default:
		return err
	}

	sources := []struct{ bucket, path string }{
		{domain.BucketUploads, book.SourcePhotoPath},
		{domain.BucketUploads, book.CharacterSheetPath},
		{domain.BucketImages, book.CoverImagePath},
		{domain.BucketImages, page.IllustrationPath},
	}
	var entries []zip.Entry
	for _, src := range sources {
		if src.path == "" {
			continue
		}
		data, err := s.store.Get(ctx, src.bucket, src.path)
		if errors.Is(err, storage.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", src.path, err)
		}
		name := path.Base(src.path)
		entries = append(entries, zip.Entry{Name: name, Data: data, Modified: book.UpdatedAt})
		m.Files = append(m.Files, name)
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	entries = append(entries, zip.Entry{Name: "book.json", Data: manifest, Modified: book.UpdatedAt})
	return zip.Write(w, entries)
}
