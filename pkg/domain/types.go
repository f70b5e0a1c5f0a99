package domain

import "github.com/google/uuid"

// User owns collections. Login doubles as the identity key.
type User struct {
	Login        string `json:"login"`
	PasswordHash string `json:"-"`
}

type Collection struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	OwnerLogin string    `json:"ownerLogin"`
	Books      []Book    `json:"books,omitempty"`
}

// Book belongs to exactly one collection. FileName is empty until a file
// has been uploaded and is the only indicator that a blob exists.
type Book struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	Description  string    `json:"description"`
	FileName     string    `json:"fileName,omitempty"`
	CollectionID uuid.UUID `json:"collectionId"`
}

// HasFile reports whether a blob has been recorded for the book.
func (b Book) HasFile() bool {
	return b.FileName != ""
}
