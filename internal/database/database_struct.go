package database

import (
	"context"
	"time"

	"github.com/thereayou/clubchat/internal/models"
	"gorm.io/gorm"
)

// Crypter transforms message bodies at the persistence boundary.
type Crypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// ModeratorChecker decides who may delete a message for everyone in a room.
type ModeratorChecker interface {
	CanModerate(ctx context.Context, actor models.Identity, roomID uint64) (bool, error)
}

// Database is the message store. Bodies are encrypted on the way in and
// decrypted on the way out; nothing else in the process sees ciphertext.
type Database struct {
	db         *gorm.DB
	crypter    Crypter
	moderators ModeratorChecker
	now        func() time.Time
}

func NewDatabase(db *gorm.DB, crypter Crypter, moderators ModeratorChecker) *Database {
	return &Database{
		db:         db,
		crypter:    crypter,
		moderators: moderators,
		now:        time.Now,
	}
}

// DB exposes the underlying handle for health checks and shutdown.
func (d *Database) DB() *gorm.DB {
	return d.db
}
