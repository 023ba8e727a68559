package store

import "gorm.io/gorm"

type Store interface {
	Close() error
	Instance() Instance
	User() User
}

type DataStore struct {
	db       *gorm.DB
	instance Instance
	user     User
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:       db,
		instance: NewInstance(db),
		user:     NewUser(db),
	}
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *DataStore) Instance() Instance {
	return s.instance
}

func (s *DataStore) User() User {
	return s.user
}
