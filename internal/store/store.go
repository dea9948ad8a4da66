// Package store хранит документы спецификаций и отметку "last updated".
//
// Бэкенды: память (для тестов и одиночного процесса) и Postgres (jsonb).
// Документ — плоский JSON-объект с ключами "_id" и "_owner".
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// Коллекции хранилища спецификаций.
const (
	ModelsCollection    = "dynamic_models__models"
	ResourcesCollection = "dynamic_models__api"
	UpdatedCollection   = "dynamic_models__updated"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrDuplicate = errors.New("document already exists")
)

// Document — JSON-совместимый документ.
type Document map[string]any

// ID — значение "_id".
func (d Document) ID() string {
	if s, ok := d["_id"].(string); ok {
		return s
	}
	return ""
}

// Owner — значение "_owner"; пустая строка, если документ ничей.
func (d Document) Owner() string {
	switch v := d["_owner"].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Collection — именованная коллекция документов.
type Collection interface {
	FindOne(ctx context.Context, id string) (Document, error)
	// Find возвращает все документы, отсортированные по _id.
	Find(ctx context.Context) ([]Document, error)
	Insert(ctx context.Context, doc Document) error
	// Save вставляет или заменяет документ.
	Save(ctx context.Context, doc Document) error
	Remove(ctx context.Context, id string) error
}

// Stamps — отметки времени по ключу (коллекция "updated").
type Stamps interface {
	Get(ctx context.Context, id string) (time.Time, error)
	Set(ctx context.Context, id string, t time.Time) error
}

// Conn — соединение с хранилищем.
type Conn interface {
	Collection(name string) Collection
	Stamps() Stamps
	Close() error
}

func docID(doc Document) (string, error) {
	id := doc.ID()
	if id == "" {
		return "", errors.New("document has no _id")
	}
	return id, nil
}
