package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookvault/pkg/auth"
	"bookvault/pkg/domain"
	"bookvault/pkg/storage"
	"bookvault/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	JWTSecret      string
	TokenTTL       time.Duration

	// Optional overrides, used by tests.
	Store   store.Store
	Objects storage.ObjectStore
}

// App is the orchestration layer. It resolves the ownership chain for each
// request, enforces authorization, and coordinates the relational store with
// the blob store. It is the only mutator of cross-store consistency.
type App struct {
	store   store.Store
	objects storage.ObjectStore
	tokens  *auth.TokenService
}

// New constructs the application with database-backed metadata storage and
// MinIO-backed file storage.
func New(cfg Config) (*App, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	return &App{
		store:   dataStore,
		objects: objects,
		tokens:  auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL),
	}, nil
}

// RegisterUser creates a new user account.
func (a *App) RegisterUser(login, password string) (domain.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, created, err := a.store.CreateUser(login, hash)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	if !created {
		return domain.User{}, ErrLoginTaken
	}
	return user, nil
}

// IssueToken verifies credentials and returns a signed bearer token.
func (a *App) IssueToken(login, password string) (string, error) {
	user, ok, err := a.store.GetUser(login)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return a.tokens.Issue(user.Login)
}

// Authenticate validates a bearer token and loads the identity it names.
// A token for a since-deleted user is rejected.
func (a *App) Authenticate(token string) (domain.User, error) {
	login, err := a.tokens.Validate(token)
	if err != nil {
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUser(login)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, auth.ErrInvalidToken
	}
	return user, nil
}

// GetUser returns the user record. Only the owner may read it.
func (a *App) GetUser(identity, login string) (domain.User, error) {
	if err := a.authorize(identity, login); err != nil {
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUser(login)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// DeleteUser removes the user and cascades to owned collections and books.
// Blobs of contained books are left behind; see DeleteCollection.
func (a *App) DeleteUser(identity, login string) error {
	if err := a.authorize(identity, login); err != nil {
		return err
	}
	found, err := a.store.DeleteUser(login)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if !found {
		return ErrUserNotFound
	}
	return nil
}

// CreateCollection creates a collection under ownerLogin.
func (a *App) CreateCollection(identity, ownerLogin, name string) (domain.Collection, error) {
	if err := a.authorize(identity, ownerLogin); err != nil {
		return domain.Collection{}, err
	}
	collection, created, err := a.store.CreateCollection(name, ownerLogin)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("create collection: %w", err)
	}
	if !created {
		return domain.Collection{}, ErrUserNotFound
	}
	return collection, nil
}

// GetCollection returns the collection with its books. A missing collection
// yields not-found before ownership is evaluated, so non-owners cannot probe
// which ids exist.
func (a *App) GetCollection(identity string, id uuid.UUID) (domain.Collection, error) {
	collection, ok, err := a.store.GetCollection(id)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return domain.Collection{}, ErrCollectionNotFound
	}
	if err := a.authorize(identity, collection.OwnerLogin); err != nil {
		return domain.Collection{}, err
	}
	return collection, nil
}

// ListCollections returns the collections owned by ownerLogin.
func (a *App) ListCollections(identity, ownerLogin string) ([]domain.Collection, error) {
	if err := a.authorize(identity, ownerLogin); err != nil {
		return nil, err
	}
	collections, err := a.store.ListCollectionsByOwner(ownerLogin)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return collections, nil
}

// DeleteCollection removes the collection and its book rows in one
// transaction. Blobs of contained books are not deleted; they stay orphaned.
// This is a known, accepted gap of the current scope.
func (a *App) DeleteCollection(identity string, id uuid.UUID) error {
	collection, ok, err := a.store.GetCollection(id)
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return ErrCollectionNotFound
	}
	if err := a.authorize(identity, collection.OwnerLogin); err != nil {
		return err
	}
	orphans := 0
	for _, b := range collection.Books {
		if b.HasFile() {
			orphans++
		}
	}
	if orphans > 0 {
		slog.Warn("deleting collection leaves blobs orphaned", "collection", id, "blobs", orphans)
	}
	if _, err := a.store.DeleteCollection(id); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return nil
}

// CreateBook creates a book in the collection.
func (a *App) CreateBook(identity string, collectionID uuid.UUID, title, author, description string) (domain.Book, error) {
	collection, ok, err := a.store.GetCollection(collectionID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return domain.Book{}, ErrCollectionNotFound
	}
	if err := a.authorize(identity, collection.OwnerLogin); err != nil {
		return domain.Book{}, err
	}
	book, created, err := a.store.CreateBook(title, author, description, collectionID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("create book: %w", err)
	}
	if !created {
		return domain.Book{}, ErrCollectionNotFound
	}
	return book, nil
}

// GetBook returns the book after walking its ownership chain.
func (a *App) GetBook(identity string, id uuid.UUID) (domain.Book, error) {
	book, _, err := a.resolveBook(identity, id)
	return book, err
}

// UpdateBook applies a partial update. Empty fields preserve the stored
// value; fields cannot be cleared to the empty string.
func (a *App) UpdateBook(identity string, id uuid.UUID, title, author, description string) (domain.Book, error) {
	if _, _, err := a.resolveBook(identity, id); err != nil {
		return domain.Book{}, err
	}
	book, found, err := a.store.UpdateBook(id, title, author, description)
	if err != nil {
		return domain.Book{}, fmt.Errorf("update book: %w", err)
	}
	if !found {
		return domain.Book{}, ErrBookNotFound
	}
	return book, nil
}

// ListBooks returns the books of a collection.
func (a *App) ListBooks(identity string, collectionID uuid.UUID) ([]domain.Book, error) {
	collection, ok, err := a.store.GetCollection(collectionID)
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}
	if err := a.authorize(identity, collection.OwnerLogin); err != nil {
		return nil, err
	}
	books, err := a.store.ListBooksByCollection(collectionID)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// DeleteBook removes the book row after a best-effort blob delete. A failing
// blob delete is logged and swallowed so the metadata delete still commits.
func (a *App) DeleteBook(ctx context.Context, identity string, id uuid.UUID) error {
	book, _, err := a.resolveBook(identity, id)
	if err != nil {
		return err
	}
	if book.HasFile() {
		if err := a.objects.Delete(ctx, blobKey(book.ID)); err != nil {
			slog.Warn("best-effort blob delete failed", "book", book.ID, "err", err)
		}
	}
	if _, err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

// UploadFile stores the file bytes under the book's blob key and only then
// records the transliterated file name on the book. A failed blob write
// aborts the operation with no metadata change. A failed metadata update
// after a successful write leaves the blob orphaned; there is no
// compensating delete.
func (a *App) UploadFile(ctx context.Context, identity string, id uuid.UUID, fileName string, r io.Reader, size int64) (domain.Book, error) {
	book, _, err := a.resolveBook(identity, id)
	if err != nil {
		return domain.Book{}, err
	}
	name := SanitizeFileName(fileName)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, blobKey(book.ID), r, size, contentType); err != nil {
		return domain.Book{}, fmt.Errorf("store file: %w", err)
	}
	updated, found, err := a.store.SetBookFile(id, name)
	if err != nil {
		return domain.Book{}, fmt.Errorf("record file name: %w", err)
	}
	if !found {
		return domain.Book{}, ErrBookNotFound
	}
	return updated, nil
}

// DownloadFile opens the book's blob for reading and returns the stored file
// name. A book without a recorded file name yields not-found even when an
// orphaned blob exists at the key.
func (a *App) DownloadFile(ctx context.Context, identity string, id uuid.UUID) (io.ReadCloser, string, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return nil, "", fmt.Errorf("get book: %w", err)
	}
	if !ok || !book.HasFile() {
		return nil, "", ErrFileNotFound
	}
	collection, err := a.ownerOf(book)
	if err != nil {
		return nil, "", err
	}
	if err := a.authorize(identity, collection.OwnerLogin); err != nil {
		return nil, "", err
	}
	rc, err := a.objects.Get(ctx, blobKey(book.ID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrFileNotFound
		}
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return rc, book.FileName, nil
}

// resolveBook walks book -> collection, enforcing that missing resources
// surface before the ownership check.
func (a *App) resolveBook(identity string, id uuid.UUID) (domain.Book, domain.Collection, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, domain.Collection{}, fmt.Errorf("get book: %w", err)
	}
	if !ok {
		return domain.Book{}, domain.Collection{}, ErrBookNotFound
	}
	collection, err := a.ownerOf(book)
	if err != nil {
		return domain.Book{}, domain.Collection{}, err
	}
	if err := a.authorize(identity, collection.OwnerLogin); err != nil {
		return domain.Book{}, domain.Collection{}, err
	}
	return book, collection, nil
}

func (a *App) ownerOf(book domain.Book) (domain.Collection, error) {
	collection, ok, err := a.store.GetCollection(book.CollectionID)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("get collection: %w", err)
	}
	if !ok {
		return domain.Collection{}, ErrCollectionNotFound
	}
	return collection, nil
}

// authorize is the single ownership gate. Every read and write on a
// collection or book funnels through here with the owning user's login.
func (a *App) authorize(identity, resourceOwner string) error {
	if identity != resourceOwner {
		return ErrForbidden
	}
	return nil
}

// blobKey derives the object key from the book identity alone, so renames
// and re-uploads never move the blob.
func blobKey(id uuid.UUID) string {
	return "books/" + id.String()
}
