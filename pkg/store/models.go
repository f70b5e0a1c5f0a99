package store

// GORM models used for persistence.
type UserModel struct {
	Login        string `gorm:"primaryKey"`
	PasswordHash string `gorm:"not null"`
}

type CollectionModel struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"not null"`
	OwnerLogin string `gorm:"not null;index"`
}

type BookModel struct {
	ID           string `gorm:"primaryKey"`
	Title        string `gorm:"not null"`
	Author       string `gorm:"not null"`
	Description  string `gorm:"type:text;not null"`
	FileName     *string
	CollectionID string `gorm:"not null;index"`
}
