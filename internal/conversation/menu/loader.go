package menu

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	apperrors "drivethru-orchestrator/internal/common/errors"

	"github.com/lib/pq"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed default_menu.json
var defaultMenu []byte

const catalogSchema = `{
  "type": "object",
  "required": ["items"],
  "properties": {
    "categories": {"type": "array", "items": {"type": "string"}},
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "price_cents"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "category": {"type": "string"},
          "price_cents": {"type": "integer", "minimum": 0},
          "modifications": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["tag"],
              "properties": {
                "tag": {"type": "string", "minLength": 1},
                "surcharge_cents": {"type": "integer", "minimum": 0}
              }
            }
          },
          "synonyms": {"type": "array", "items": {"type": "string"}}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func schema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(catalogSchema))
	})
	return compiledSchema, schemaErr
}

type catalogDocument struct {
	Categories []string   `json:"categories"`
	Items      []MenuItem `json:"items"`
}

// LoadDefault builds the catalog bundled with the binary.
func LoadDefault() (*Catalog, error) {
	c, err := LoadJSON(defaultMenu)
	if err != nil {
		return nil, apperrors.NewCatalogLoadFailedError("embedded", err)
	}
	return c, nil
}

// LoadFile reads and validates a catalog JSON document from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewCatalogLoadFailedError(path, err)
	}
	c, err := LoadJSON(data)
	if err != nil {
		return nil, apperrors.NewCatalogLoadFailedError(path, err)
	}
	return c, nil
}

// LoadJSON validates data against the catalog schema and builds a Catalog from it.
func LoadJSON(data []byte) (*Catalog, error) {
	s, err := schema()
	if err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return nil, fmt.Errorf("catalog validation failed: %v", errs)
	}

	var doc catalogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(doc.Items, doc.Categories...)
}

const (
	itemsQuery = `
		SELECT id, name, category, price_cents, synonyms
		FROM menu_items
		WHERE active = true
		ORDER BY position, id`

	modificationsQuery = `
		SELECT item_id, tag, surcharge_cents
		FROM menu_item_modifications
		ORDER BY item_id, position`
)

// LoadPostgres reads the active menu from the menu_items and menu_item_modifications tables.
func LoadPostgres(ctx context.Context, db *sql.DB) (*Catalog, error) {
	items, err := queryItems(ctx, db)
	if err != nil {
		return nil, apperrors.NewCatalogLoadFailedError("postgres", err)
	}
	if err := attachModifications(ctx, db, items); err != nil {
		return nil, apperrors.NewCatalogLoadFailedError("postgres", err)
	}

	c, err := NewCatalog(items)
	if err != nil {
		return nil, apperrors.NewCatalogLoadFailedError("postgres", err)
	}
	return c, nil
}

func queryItems(ctx context.Context, db *sql.DB) ([]MenuItem, error) {
	rows, err := db.QueryContext(ctx, itemsQuery)
	if err != nil {
		return nil, fmt.Errorf("query menu items: %w", err)
	}
	defer rows.Close()

	var items []MenuItem
	for rows.Next() {
		var (
			item     MenuItem
			category sql.NullString
			synonyms pq.StringArray
		)
		if err := rows.Scan(&item.ID, &item.Name, &category, &item.Price, &synonyms); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		item.Category = category.String
		item.Synonyms = []string(synonyms)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate menu items: %w", err)
	}
	return items, nil
}

func attachModifications(ctx context.Context, db *sql.DB, items []MenuItem) error {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.ID] = i
	}

	rows, err := db.QueryContext(ctx, modificationsQuery)
	if err != nil {
		return fmt.Errorf("query modifications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			itemID string
			mod    Modification
		)
		if err := rows.Scan(&itemID, &mod.Tag, &mod.Surcharge); err != nil {
			return fmt.Errorf("scan modification: %w", err)
		}
		// Modifications of inactive items are skipped.
		if i, ok := index[itemID]; ok {
			items[i].Modifications = append(items[i].Modifications, mod)
		}
	}
	return rows.Err()
}
