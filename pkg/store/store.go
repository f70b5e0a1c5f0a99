package store

import (
	"github.com/google/uuid"

	"bookvault/pkg/domain"
)

// Store defines persistence operations for users, collections, and books.
// Each entity is mutated only through its own methods; multi-row cascades
// run inside a single transaction.
type Store interface {
	// users
	CreateUser(login, passwordHash string) (domain.User, bool, error)
	GetUser(login string) (domain.User, bool, error)
	DeleteUser(login string) (bool, error)

	// collections
	CreateCollection(name, ownerLogin string) (domain.Collection, bool, error)
	GetCollection(id uuid.UUID) (domain.Collection, bool, error)
	ListCollectionsByOwner(ownerLogin string) ([]domain.Collection, error)
	DeleteCollection(id uuid.UUID) (bool, error)

	// books
	CreateBook(title, author, description string, collectionID uuid.UUID) (domain.Book, bool, error)
	GetBook(id uuid.UUID) (domain.Book, bool, error)
	UpdateBook(id uuid.UUID, title, author, description string) (domain.Book, bool, error)
	SetBookFile(id uuid.UUID, fileName string) (domain.Book, bool, error)
	ListBooksByCollection(collectionID uuid.UUID) ([]domain.Book, error)
	DeleteBook(id uuid.UUID) (bool, error)
}
