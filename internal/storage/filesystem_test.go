package storage

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(FileStoreOptions{
		BasePath:      t.TempDir(),
		PublicBaseURL: "http://localhost:8080/",
		SigningSecret: "test-secret",
	})
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return store
}

func TestFileStorePutGetOverwrites(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "images", "book-1/cover.png", "image/png", []byte("v1")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := store.Put(ctx, "images", "book-1/cover.png", "image/png", []byte("v2")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	data, err := store.Get(ctx, "images", "book-1/cover.png")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !bytes.Equal(data, []byte("v2")) {
		t.Fatalf("data = %q, want v2", data)
	}
	entries, err := os.ReadDir(filepath.Join(store.BasePath(), "images", "book-1"))
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("objects on disk = %d, want 1", len(entries))
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	store := newTestFileStore(t)
	if _, err := store.Get(context.Background(), "uploads", "nope/source.jpg"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()
	for _, path := range []string{"../escape.png", "", "."} {
		if err := store.Put(ctx, "images", path, "image/png", []byte("x")); err == nil {
			t.Fatalf("expected error for path %q", path)
		}
	}
	if err := store.Put(ctx, "../images", "a.png", "image/png", []byte("x")); err == nil {
		t.Fatal("expected error for bucket traversal")
	}
}

func TestFileStoreSignedURLRoundTrip(t *testing.T) {
	store := newTestFileStore(t)
	raw, err := store.SignedURL(context.Background(), "images", "book-1/page_01.png", time.Hour)
	if err != nil {
		t.Fatalf("SignedURL error: %v", err)
	}
	if !strings.HasPrefix(raw, "http://localhost:8080/v1/files/images/book-1/page_01.png?") {
		t.Fatalf("unexpected url %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	exp, sig := u.Query().Get("exp"), u.Query().Get("sig")
	if !store.VerifySignature("images", "book-1/page_01.png", exp, sig) {
		t.Fatal("signature did not verify")
	}
	if store.VerifySignature("images", "book-2/page_01.png", exp, sig) {
		t.Fatal("signature verified for a different object")
	}

	store.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * time.Hour) }
	if store.VerifySignature("images", "book-1/page_01.png", exp, sig) {
		t.Fatal("expired signature verified")
	}
}

func TestExtensionForMIME(t *testing.T) {
	cases := map[string]string{"image/jpeg": "jpg", "image/png; charset=binary": "png", "IMAGE/WEBP": "webp"}
	for mime, want := range cases {
		got, ok := ExtensionForMIME(mime)
		if !ok || got != want {
			t.Fatalf("ExtensionForMIME(%q) = %q, %v; want %q", mime, got, ok, want)
		}
	}
	if _, ok := ExtensionForMIME("image/gif"); ok {
		t.Fatal("gif should not be accepted")
	}
}
