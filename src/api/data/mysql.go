package data

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/snowlist/snowlist/src/api/types"
)

func MustMySQL(dsn string) *gorm.DB {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("mysql: %v", err)
	}
	return db
}

// Migrate creates or updates the schema for every persisted entity.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.User{},
		&types.KarmaTransaction{},
		&types.Repository{},
		&types.EmailMember{},
		&types.Post{},
		&types.SnowballEvent{},
		&types.SnowballRecipient{},
		&types.Setting{},
	)
}
