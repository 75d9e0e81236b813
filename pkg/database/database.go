package database

import (
	"fmt"
	"log"

	"studypath_backend/internal/config"
	"studypath_backend/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	// 注意：topics/subtopics/notes 的 (parent, title) 故意不建唯一索引，
	// 历史数据里允许同名行存在，读取时按最近访问优先。
	err = db.AutoMigrate(
		&model.User{},
		&model.Topic{},
		&model.Subtopic{},
		&model.Note{},
		&model.Quiz{},
		&model.DiveDeeper{},
	)

	if err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	return db, nil
}
