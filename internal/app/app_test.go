package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"bookvault/pkg/storage"
	"bookvault/pkg/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *storage.MemoryStore) {
	t.Helper()
	metadata := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	a, err := New(Config{
		JWTSecret: "test-secret",
		TokenTTL:  time.Minute,
		Store:     metadata,
		Objects:   objects,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, metadata, objects
}

func mustRegister(t *testing.T, a *App, login, password string) {
	t.Helper()
	if _, err := a.RegisterUser(login, password); err != nil {
		t.Fatalf("register %s: %v", login, err)
	}
}

func mustChain(t *testing.T, a *App, login string) (uuid.UUID, uuid.UUID) {
	t.Helper()
	collection, err := a.CreateCollection(login, login, "SciFi")
	if err != nil {
		t.Fatalf("create collection: %v", err)
	}
	book, err := a.CreateBook(login, collection.ID, "Dune", "Frank Herbert", "Desert planet epic")
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	return collection.ID, book.ID
}

func TestRegisterUserConflict(t *testing.T) {
	a, _, _ := newTestApp(t)
	if _, err := a.RegisterUser("alice", "p1"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := a.RegisterUser("alice", "p2")
	if !errors.Is(err, ErrLoginTaken) {
		t.Fatalf("second register err = %v, want ErrLoginTaken", err)
	}
	// The original record survives the conflicting attempt.
	if _, err := a.IssueToken("alice", "p1"); err != nil {
		t.Fatalf("issue token after conflict: %v", err)
	}
}

func TestIssueTokenRejectsBadCredentials(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	if _, err := a.IssueToken("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := a.IssueToken("nobody", "p1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateRejectsDeletedUser(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	token, err := a.IssueToken("alice", "p1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := a.Authenticate(token); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if err := a.DeleteUser("alice", "alice"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := a.Authenticate(token); err == nil {
		t.Fatalf("expected token for deleted user to be rejected")
	}
}

func TestForbiddenOnEveryOwnedResource(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	mustRegister(t, a, "bob", "p2")
	collectionID, bookID := mustChain(t, a, "alice")
	if _, err := a.UploadFile(context.Background(), "alice", bookID, "f.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("seed upload: %v", err)
	}

	checks := map[string]func() error{
		"get user": func() error {
			_, err := a.GetUser("bob", "alice")
			return err
		},
		"delete user": func() error { return a.DeleteUser("bob", "alice") },
		"create collection": func() error {
			_, err := a.CreateCollection("bob", "alice", "X")
			return err
		},
		"get collection": func() error {
			_, err := a.GetCollection("bob", collectionID)
			return err
		},
		"list collections": func() error {
			_, err := a.ListCollections("bob", "alice")
			return err
		},
		"delete collection": func() error { return a.DeleteCollection("bob", collectionID) },
		"create book": func() error {
			_, err := a.CreateBook("bob", collectionID, "T", "A", "D")
			return err
		},
		"get book": func() error {
			_, err := a.GetBook("bob", bookID)
			return err
		},
		"update book": func() error {
			_, err := a.UpdateBook("bob", bookID, "T", "", "")
			return err
		},
		"list books": func() error {
			_, err := a.ListBooks("bob", collectionID)
			return err
		},
		"delete book": func() error { return a.DeleteBook(context.Background(), "bob", bookID) },
		"upload file": func() error {
			_, err := a.UploadFile(context.Background(), "bob", bookID, "f.txt", strings.NewReader("x"), 1)
			return err
		},
		"download file": func() error {
			_, _, err := a.DownloadFile(context.Background(), "bob", bookID)
			return err
		},
	}
	for name, call := range checks {
		if err := call(); !errors.Is(err, ErrForbidden) {
			t.Fatalf("%s err = %v, want ErrForbidden", name, err)
		}
	}
}

func TestMissingResourceYields404EvenForNonOwner(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "bob", "p2")
	ghost := uuid.New()
	if _, err := a.GetCollection("bob", ghost); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("missing collection err = %v, want ErrCollectionNotFound", err)
	}
	if _, err := a.GetBook("bob", ghost); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("missing book err = %v, want ErrBookNotFound", err)
	}
	if err := a.DeleteCollection("bob", ghost); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("delete missing collection err = %v, want ErrCollectionNotFound", err)
	}
}

func TestUpdateBookEmptyFieldsPreserveValues(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	_, bookID := mustChain(t, a, "alice")

	updated, err := a.UpdateBook("alice", bookID, "Dune Messiah", "", "")
	if err != nil {
		t.Fatalf("update book: %v", err)
	}
	if updated.Title != "Dune Messiah" {
		t.Fatalf("title = %q, want Dune Messiah", updated.Title)
	}
	if updated.Author != "Frank Herbert" {
		t.Fatalf("author = %q, want preserved value", updated.Author)
	}
	if updated.Description != "Desert planet epic" {
		t.Fatalf("description = %q, want preserved value", updated.Description)
	}
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	a, _, objects := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	_, bookID := mustChain(t, a, "alice")

	content := []byte("some file bytes")
	book, err := a.UploadFile(context.Background(), "alice", bookID, "Война и мир.pdf", bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if book.FileName != "Voina i mir.pdf" {
		t.Fatalf("file name = %q, want transliterated ASCII", book.FileName)
	}
	if !objects.Has("books/" + bookID.String()) {
		t.Fatalf("expected blob at books/%s", bookID)
	}

	rc, fileName, err := a.DownloadFile(context.Background(), "alice", bookID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("downloaded bytes differ from uploaded")
	}
	if fileName != "Voina i mir.pdf" {
		t.Fatalf("download file name = %q", fileName)
	}
}

func TestUploadFailureLeavesMetadataUntouched(t *testing.T) {
	a, metadata, objects := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	_, bookID := mustChain(t, a, "alice")

	objects.FailPuts = true
	if _, err := a.UploadFile(context.Background(), "alice", bookID, "f.pdf", strings.NewReader("x"), 1); err == nil {
		t.Fatalf("expected upload to fail")
	}
	book, ok, err := metadata.GetBook(bookID)
	if err != nil || !ok {
		t.Fatalf("get book: ok=%v err=%v", ok, err)
	}
	if book.HasFile() {
		t.Fatalf("file name recorded despite failed blob write")
	}
}

func TestDownloadWithoutFileIs404EvenWithOrphanBlob(t *testing.T) {
	a, _, objects := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	_, bookID := mustChain(t, a, "alice")

	// Simulate an orphan: blob present, metadata absent.
	if err := objects.Put(context.Background(), "books/"+bookID.String(), strings.NewReader("orphan"), 6, ""); err != nil {
		t.Fatalf("seed orphan: %v", err)
	}
	if _, _, err := a.DownloadFile(context.Background(), "alice", bookID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("download err = %v, want ErrFileNotFound", err)
	}
}

func TestDeleteBookRemovesBlob(t *testing.T) {
	a, _, objects := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	_, bookID := mustChain(t, a, "alice")

	if _, err := a.UploadFile(context.Background(), "alice", bookID, "f.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := a.DeleteBook(context.Background(), "alice", bookID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if objects.Has("books/" + bookID.String()) {
		t.Fatalf("blob should be removed with the book")
	}
	if _, _, err := a.DownloadFile(context.Background(), "alice", bookID); !errors.Is(err, ErrFileNotFound) && !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("download after delete err = %v, want not-found", err)
	}
}

func TestDeleteBookSwallowsBlobDeleteFailure(t *testing.T) {
	a, metadata, objects := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	_, bookID := mustChain(t, a, "alice")

	if _, err := a.UploadFile(context.Background(), "alice", bookID, "f.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("upload: %v", err)
	}
	objects.FailDeletes = true
	if err := a.DeleteBook(context.Background(), "alice", bookID); err != nil {
		t.Fatalf("delete book should swallow blob errors, got: %v", err)
	}
	if _, ok, _ := metadata.GetBook(bookID); ok {
		t.Fatalf("book row should be gone despite blob delete failure")
	}
}

func TestDeleteCollectionCascadesBooksButNotBlobs(t *testing.T) {
	a, metadata, objects := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	collectionID, bookID := mustChain(t, a, "alice")

	if _, err := a.UploadFile(context.Background(), "alice", bookID, "f.txt", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := a.DeleteCollection("alice", collectionID); err != nil {
		t.Fatalf("delete collection: %v", err)
	}
	if _, ok, _ := metadata.GetBook(bookID); ok {
		t.Fatalf("books should be cascade-deleted with the collection")
	}
	books, err := metadata.ListBooksByCollection(collectionID)
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 0 {
		t.Fatalf("expected empty listing after cascade, got %d", len(books))
	}
	// Blob cleanup is not part of collection deletion.
	if !objects.Has("books/" + bookID.String()) {
		t.Fatalf("collection delete must not touch blobs")
	}
}

func TestDeleteUserCascades(t *testing.T) {
	a, metadata, _ := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	collectionID, bookID := mustChain(t, a, "alice")

	if err := a.DeleteUser("alice", "alice"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, ok, _ := metadata.GetUser("alice"); ok {
		t.Fatalf("user should be gone")
	}
	if _, ok, _ := metadata.GetCollection(collectionID); ok {
		t.Fatalf("collections should be cascade-deleted")
	}
	if _, ok, _ := metadata.GetBook(bookID); ok {
		t.Fatalf("books should be cascade-deleted")
	}
}

func TestCreateBookInMissingCollection(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	if _, err := a.CreateBook("alice", uuid.New(), "T", "A", "D"); !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("err = %v, want ErrCollectionNotFound", err)
	}
}

func TestGetCollectionIncludesBooks(t *testing.T) {
	a, _, _ := newTestApp(t)
	mustRegister(t, a, "alice", "p1")
	collectionID, bookID := mustChain(t, a, "alice")

	collection, err := a.GetCollection("alice", collectionID)
	if err != nil {
		t.Fatalf("get collection: %v", err)
	}
	if len(collection.Books) != 1 || collection.Books[0].ID != bookID {
		t.Fatalf("expected eagerly loaded books, got %+v", collection.Books)
	}
}
