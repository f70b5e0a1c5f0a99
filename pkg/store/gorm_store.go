package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"bookvault/pkg/domain"
)

const migrateLockID int64 = 84518451

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations, and ensures the
// cascade foreign keys exist.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &CollectionModel{}, &BookModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM collection_models c
				WHERE NOT EXISTS (SELECT 1 FROM user_models u WHERE u.login = c.owner_login);
				DELETE FROM book_models b
				WHERE NOT EXISTS (SELECT 1 FROM collection_models c WHERE c.id = b.collection_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'collection_models'
					AND constraint_name = 'collection_models_owner_login_fkey'
				) THEN
					ALTER TABLE collection_models
					ADD CONSTRAINT collection_models_owner_login_fkey
					FOREIGN KEY (owner_login) REFERENCES user_models(login) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'book_models'
					AND constraint_name = 'book_models_collection_id_fkey'
				) THEN
					ALTER TABLE book_models
					ADD CONSTRAINT book_models_collection_id_fkey
					FOREIGN KEY (collection_id) REFERENCES collection_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure cascade foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser registers a user. Returns false without mutation when the
// login is already taken.
func (s *GormStore) CreateUser(login, passwordHash string) (domain.User, bool, error) {
	var created bool
	user := domain.User{Login: login, PasswordHash: passwordHash}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("login = ?", login).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(&UserModel{Login: login, PasswordHash: passwordHash}).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.User{}, false, err
	}
	return user, created, nil
}

// GetUser looks up a user by login.
func (s *GormStore) GetUser(login string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "login = ?", login).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DeleteUser removes the user with all owned collections and books in one
// transaction. Blobs of contained books are not touched here.
func (s *GormStore) DeleteUser(login string) (bool, error) {
	var found bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model UserModel
		if err := tx.First(&model, "login = ?", login).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		if err := tx.Delete(&BookModel{},
			"collection_id IN (SELECT id FROM collection_models WHERE owner_login = ?)", login).Error; err != nil {
			return err
		}
		if err := tx.Delete(&CollectionModel{}, "owner_login = ?", login).Error; err != nil {
			return err
		}
		return tx.Delete(&UserModel{}, "login = ?", login).Error
	})
	return found, err
}

// CreateCollection creates a collection owned by ownerLogin. Returns false
// when the owner does not exist.
func (s *GormStore) CreateCollection(name, ownerLogin string) (domain.Collection, bool, error) {
	collection := domain.Collection{ID: uuid.New(), Name: name, OwnerLogin: ownerLogin}
	var created bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&UserModel{}).Where("login = ?", ownerLogin).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		model := CollectionModel{ID: collection.ID.String(), Name: name, OwnerLogin: ownerLogin}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Collection{}, false, err
	}
	return collection, created, nil
}

// GetCollection retrieves a collection with its books eagerly loaded.
func (s *GormStore) GetCollection(id uuid.UUID) (domain.Collection, bool, error) {
	var model CollectionModel
	if err := s.db.First(&model, "id = ?", id.String()).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Collection{}, false, nil
		}
		return domain.Collection{}, false, err
	}
	collection, err := collectionFromModel(model)
	if err != nil {
		return domain.Collection{}, false, err
	}
	books, err := s.ListBooksByCollection(id)
	if err != nil {
		return domain.Collection{}, false, err
	}
	collection.Books = books
	return collection, true, nil
}

// ListCollectionsByOwner returns collections owned by ownerLogin, without books.
func (s *GormStore) ListCollectionsByOwner(ownerLogin string) ([]domain.Collection, error) {
	var models []CollectionModel
	if err := s.db.Where("owner_login = ?", ownerLogin).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Collection, 0, len(models))
	for _, m := range models {
		collection, err := collectionFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, collection)
	}
	return res, nil
}

// DeleteCollection removes a collection and its books in one transaction.
func (s *GormStore) DeleteCollection(id uuid.UUID) (bool, error) {
	var found bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model CollectionModel
		if err := tx.First(&model, "id = ?", id.String()).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		if err := tx.Delete(&BookModel{}, "collection_id = ?", id.String()).Error; err != nil {
			return err
		}
		return tx.Delete(&CollectionModel{}, "id = ?", id.String()).Error
	})
	return found, err
}

// CreateBook creates a book in collectionID. Returns false when the
// collection does not exist.
func (s *GormStore) CreateBook(title, author, description string, collectionID uuid.UUID) (domain.Book, bool, error) {
	book := domain.Book{
		ID:           uuid.New(),
		Title:        title,
		Author:       author,
		Description:  description,
		CollectionID: collectionID,
	}
	var created bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&CollectionModel{}).Where("id = ?", collectionID.String()).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		model := bookToModel(book)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Book{}, false, err
	}
	return book, created, nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id uuid.UUID) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id.String()).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	book, err := bookFromModel(model)
	if err != nil {
		return domain.Book{}, false, err
	}
	return book, true, nil
}

// UpdateBook applies a partial update. Empty fields leave the stored value
// unchanged; there is no way to clear a field to the empty string.
func (s *GormStore) UpdateBook(id uuid.UUID, title, author, description string) (domain.Book, bool, error) {
	updates := map[string]any{}
	if title != "" {
		updates["title"] = title
	}
	if author != "" {
		updates["author"] = author
	}
	if description != "" {
		updates["description"] = description
	}
	return s.updateBook(id, updates)
}

// SetBookFile records the metadata file name for an uploaded blob.
func (s *GormStore) SetBookFile(id uuid.UUID, fileName string) (domain.Book, bool, error) {
	return s.updateBook(id, map[string]any{"file_name": fileName})
}

func (s *GormStore) updateBook(id uuid.UUID, updates map[string]any) (domain.Book, bool, error) {
	var book domain.Book
	var found bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var model BookModel
		if err := tx.First(&model, "id = ?", id.String()).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		found = true
		if len(updates) > 0 {
			if err := tx.Model(&BookModel{}).Where("id = ?", id.String()).Updates(updates).Error; err != nil {
				return err
			}
			if err := tx.First(&model, "id = ?", id.String()).Error; err != nil {
				return err
			}
		}
		var err error
		book, err = bookFromModel(model)
		return err
	})
	if err != nil {
		return domain.Book{}, false, err
	}
	return book, found, nil
}

// ListBooksByCollection returns books in the collection.
func (s *GormStore) ListBooksByCollection(collectionID uuid.UUID) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Where("collection_id = ?", collectionID.String()).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		book, err := bookFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, book)
	}
	return res, nil
}

// DeleteBook removes the book row. The blob, if any, is the caller's concern.
func (s *GormStore) DeleteBook(id uuid.UUID) (bool, error) {
	res := s.db.Delete(&BookModel{}, "id = ?", id.String())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{Login: m.Login, PasswordHash: m.PasswordHash}
}

func collectionFromModel(m CollectionModel) (domain.Collection, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return domain.Collection{}, fmt.Errorf("parse collection id %q: %w", m.ID, err)
	}
	return domain.Collection{ID: id, Name: m.Name, OwnerLogin: m.OwnerLogin}, nil
}

func bookToModel(b domain.Book) BookModel {
	var fileName *string
	if b.FileName != "" {
		value := b.FileName
		fileName = &value
	}
	return BookModel{
		ID:           b.ID.String(),
		Title:        b.Title,
		Author:       b.Author,
		Description:  b.Description,
		FileName:     fileName,
		CollectionID: b.CollectionID.String(),
	}
}

func bookFromModel(m BookModel) (domain.Book, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("parse book id %q: %w", m.ID, err)
	}
	collectionID, err := uuid.Parse(m.CollectionID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("parse book collection id %q: %w", m.CollectionID, err)
	}
	fileName := ""
	if m.FileName != nil {
		fileName = *m.FileName
	}
	return domain.Book{
		ID:           id,
		Title:        m.Title,
		Author:       m.Author,
		Description:  m.Description,
		FileName:     fileName,
		CollectionID: collectionID,
	}, nil
}
