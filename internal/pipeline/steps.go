package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tkendall99/bedtime-solved/internal/domain"
	"github.com/tkendall99/bedtime-solved/internal/prompts"
	"github.com/tkendall99/bedtime-solved/internal/providers"
	"github.com/tkendall99/bedtime-solved/internal/storage"
	"github.com/tkendall99/bedtime-solved/internal/story"
)

// stepFunc runs one generation step for a book. It must be safe to repeat:
// artifacts go to deterministic paths and rows are upserted.
type stepFunc func(ctx context.Context, book *domain.Book) error

func (p *Processor) stepTable() map[domain.JobStep]stepFunc {
	return map[domain.JobStep]stepFunc{
		domain.StepCharacterSheet: p.characterSheet,
		domain.StepStoryText:      p.storyText,
		domain.StepCoverImage:     p.coverImage,
		domain.StepPage1Image:     p.page1Image,
	}
}

func missingInput(what string) error {
	return Permanent(fmt.Errorf("%w: %s", domain.ErrMissingInput, what))
}

// download reads a required input object. An absent object will not appear
// on retry, so it is permanent.
func (p *Processor) download(ctx context.Context, bucket, path, what string) ([]byte, error) {
	data, err := p.store.Get(ctx, bucket, path)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, Permanent(fmt.Errorf("download %s: %w", what, err))
		}
		return nil, fmt.Errorf("download %s: %w", what, err)
	}
	if len(data) == 0 {
		return nil, missingInput(what + " is empty")
	}
	return data, nil
}

// referenceMIME labels a reference image by its bytes. Generated images are
// stored under fixed names whatever format the model returned.
func referenceMIME(data []byte, path string) string {
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return storage.ContentTypeForPath(path)
}

func (p *Processor) upload(ctx context.Context, bucket, path string, img providers.Image) error {
	contentType := img.MIMEType
	if contentType == "" {
		contentType = storage.ContentTypeForPath(path)
	}
	if err := p.store.Put(ctx, bucket, path, contentType, img.Data); err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, path, err)
	}
	return nil
}

func (p *Processor) characterSheet(ctx context.Context, book *domain.Book) error {
	if strings.TrimSpace(book.SourcePhotoPath) == "" {
		return missingInput("source photo path")
	}
	photo, err := p.download(ctx, domain.BucketUploads, book.SourcePhotoPath, "source photo")
	if err != nil {
		return err
	}
	img, err := p.image.GenerateImage(ctx, providers.ImageRequest{
		Prompt:        prompts.CharacterSheet(book),
		Reference:     photo,
		ReferenceMIME: referenceMIME(photo, book.SourcePhotoPath),
	})
	if err != nil {
		return fmt.Errorf("generate character sheet: %w", err)
	}
	path := domain.CharacterSheetPath(book.ID)
	if err := p.upload(ctx, domain.BucketUploads, path, img); err != nil {
		return err
	}
	return p.books.SetCharacterSheet(ctx, book.ID, path)
}

func (p *Processor) storyText(ctx context.Context, book *domain.Book) error {
	raw, err := p.text.GenerateText(ctx, providers.TextRequest{
		System:      prompts.StorySystem(book.AgeBand),
		User:        prompts.StoryUser(book),
		Temperature: prompts.StoryTemperature,
		MaxTokens:   prompts.StoryMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("generate story: %w", err)
	}
	parsed, err := story.Parse(raw)
	if err != nil {
		return Permanent(err)
	}
	if err := p.books.SetTitle(ctx, book.ID, parsed.Title); err != nil {
		return err
	}
	return p.pages.UpsertText(ctx, &domain.BookPage{
		BookID:             book.ID,
		PageNumber:         1,
		PageType:           domain.PageTypeContent,
		Text:               parsed.Page1Text,
		IllustrationPrompt: parsed.IllustrationPrompt,
	})
}

func (p *Processor) coverImage(ctx context.Context, book *domain.Book) error {
	if book.CharacterSheetPath == "" {
		return missingInput("character sheet")
	}
	sheet, err := p.download(ctx, domain.BucketUploads, book.CharacterSheetPath, "character sheet")
	if err != nil {
		return err
	}
	img, err := p.image.GenerateImage(ctx, providers.ImageRequest{
		Prompt:        prompts.Cover(book),
		Reference:     sheet,
		ReferenceMIME: referenceMIME(sheet, book.CharacterSheetPath),
	})
	if err != nil {
		return fmt.Errorf("generate cover: %w", err)
	}
	path := domain.CoverImagePath(book.ID)
	if err := p.upload(ctx, domain.BucketImages, path, img); err != nil {
		return err
	}
	return p.books.SetCover(ctx, book.ID, path)
}

func (p *Processor) page1Image(ctx context.Context, book *domain.Book) error {
	if book.CharacterSheetPath == "" {
		return missingInput("character sheet")
	}
	page, err := p.pages.Get(ctx, book.ID, 1)
	if errors.Is(err, domain.ErrNotFound) {
		return missingInput("page 1 text")
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(page.Text) == "" {
		return missingInput("page 1 text")
	}
	sheet, err := p.download(ctx, domain.BucketUploads, book.CharacterSheetPath, "character sheet")
	if err != nil {
		return err
	}
	img, err := p.image.GenerateImage(ctx, providers.ImageRequest{
		Prompt:        prompts.PageScene(book, 1, page.Text, page.IllustrationPrompt),
		Reference:     sheet,
		ReferenceMIME: referenceMIME(sheet, book.CharacterSheetPath),
	})
	if err != nil {
		return fmt.Errorf("generate page 1 illustration: %w", err)
	}
	path := domain.Page1ImagePath(book.ID)
	if err := p.upload(ctx, domain.BucketImages, path, img); err != nil {
		return err
	}
	return p.pages.SetIllustration(ctx, book.ID, 1, path)
}
