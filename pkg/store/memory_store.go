package store

import (
	"sync"

	"github.com/google/uuid"

	"bookvault/pkg/domain"
)

// MemoryStore keeps all metadata in-process. It mirrors the cascade and
// conflict semantics of GormStore and backs the test suites.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	collections map[uuid.UUID]domain.Collection
	books       map[uuid.UUID]domain.Book
	order       []uuid.UUID // book insertion order, for stable listings
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		collections: make(map[uuid.UUID]domain.Collection),
		books:       make(map[uuid.UUID]domain.Book),
	}
}

func (m *MemoryStore) CreateUser(login, passwordHash string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.users[login]; exists {
		return domain.User{}, false, nil
	}
	user := domain.User{Login: login, PasswordHash: passwordHash}
	m.users[login] = user
	return user, true, nil
}

func (m *MemoryStore) GetUser(login string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[login]
	return user, ok, nil
}

func (m *MemoryStore) DeleteUser(login string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[login]; !ok {
		return false, nil
	}
	for id, c := range m.collections {
		if c.OwnerLogin == login {
			m.deleteCollectionLocked(id)
		}
	}
	delete(m.users, login)
	return true, nil
}

func (m *MemoryStore) CreateCollection(name, ownerLogin string) (domain.Collection, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[ownerLogin]; !ok {
		return domain.Collection{}, false, nil
	}
	collection := domain.Collection{ID: uuid.New(), Name: name, OwnerLogin: ownerLogin}
	m.collections[collection.ID] = collection
	return collection, true, nil
}

func (m *MemoryStore) GetCollection(id uuid.UUID) (domain.Collection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	collection, ok := m.collections[id]
	if !ok {
		return domain.Collection{}, false, nil
	}
	collection.Books = m.listBooksLocked(id)
	return collection, true, nil
}

func (m *MemoryStore) ListCollectionsByOwner(ownerLogin string) ([]domain.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Collection, 0)
	for _, c := range m.collections {
		if c.OwnerLogin == ownerLogin {
			res = append(res, c)
		}
	}
	return res, nil
}

func (m *MemoryStore) DeleteCollection(id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		return false, nil
	}
	m.deleteCollectionLocked(id)
	return true, nil
}

func (m *MemoryStore) deleteCollectionLocked(id uuid.UUID) {
	for bookID, b := range m.books {
		if b.CollectionID == id {
			delete(m.books, bookID)
		}
	}
	delete(m.collections, id)
}

func (m *MemoryStore) CreateBook(title, author, description string, collectionID uuid.UUID) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collectionID]; !ok {
		return domain.Book{}, false, nil
	}
	book := domain.Book{
		ID:           uuid.New(),
		Title:        title,
		Author:       author,
		Description:  description,
		CollectionID: collectionID,
	}
	m.books[book.ID] = book
	m.order = append(m.order, book.ID)
	return book, true, nil
}

func (m *MemoryStore) GetBook(id uuid.UUID) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	book, ok := m.books[id]
	return book, ok, nil
}

func (m *MemoryStore) UpdateBook(id uuid.UUID, title, author, description string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	if title != "" {
		book.Title = title
	}
	if author != "" {
		book.Author = author
	}
	if description != "" {
		book.Description = description
	}
	m.books[id] = book
	return book, true, nil
}

func (m *MemoryStore) SetBookFile(id uuid.UUID, fileName string) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	book.FileName = fileName
	m.books[id] = book
	return book, true, nil
}

func (m *MemoryStore) ListBooksByCollection(collectionID uuid.UUID) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBooksLocked(collectionID), nil
}

func (m *MemoryStore) listBooksLocked(collectionID uuid.UUID) []domain.Book {
	res := make([]domain.Book, 0)
	for _, id := range m.order {
		if b, ok := m.books[id]; ok && b.CollectionID == collectionID {
			res = append(res, b)
		}
	}
	return res
}

func (m *MemoryStore) DeleteBook(id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return false, nil
	}
	delete(m.books, id)
	return true, nil
}
