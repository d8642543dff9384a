// Package catalog loads the priced item list and the customer directory from
// CSV files.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/lu-zhengda/quotemail/internal/domain"
)

// Catalog is everything the matcher needs for one run.
type Catalog struct {
	Items   []domain.CatalogItem
	Domains domain.DomainSet
}

// Loader supplies the catalog for a run.
type Loader interface {
	Load() (*Catalog, error)
}

// FileLoader reads the items and customers CSV files.
type FileLoader struct {
	fs            afero.Fs
	itemsPath     string
	customersPath string
	log           zerolog.Logger
}

func NewFileLoader(fs afero.Fs, itemsPath, customersPath string, log zerolog.Logger) *FileLoader {
	return &FileLoader{fs: fs, itemsPath: itemsPath, customersPath: customersPath, log: log}
}

func (l *FileLoader) Load() (*Catalog, error) {
	items, err := l.readItems()
	if err != nil {
		return nil, err
	}
	domains, err := l.readDomains()
	if err != nil {
		return nil, err
	}
	l.log.Info().
		Int("items", len(items)).
		Int("domains", len(domains)).
		Msg("catalog loaded")
	return &Catalog{Items: items, Domains: domains}, nil
}

func (l *FileLoader) readItems() ([]domain.CatalogItem, error) {
	f, err := l.fs.Open(l.itemsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open items file: %w", err)
	}
	defer f.Close()

	items, err := ReadItems(f, l.log.With().Str("file", l.itemsPath).Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to read items from %s: %w", l.itemsPath, err)
	}
	return items, nil
}

func (l *FileLoader) readDomains() (domain.DomainSet, error) {
	f, err := l.fs.Open(l.customersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open customers file: %w", err)
	}
	defer f.Close()

	domains, err := ReadDomains(f, l.log.With().Str("file", l.customersPath).Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to read customers from %s: %w", l.customersPath, err)
	}
	return domains, nil
}

// ReadItems parses an items CSV with a header row containing name and price,
// and optionally id. Rows with an empty name or a price that is not a
// non-negative number are skipped with a warning.
func ReadItems(r io.Reader, log zerolog.Logger) ([]domain.CatalogItem, error) {
	rows, cols, err := readTable(r, "name", "price")
	if err != nil {
		return nil, err
	}
	idCol, hasID := cols["id"]

	var items []domain.CatalogItem
	for i, row := range rows {
		line := i + 2
		name := strings.TrimSpace(field(row, cols["name"]))
		if name == "" {
			log.Warn().Int("line", line).Msg("skipping item with empty name")
			continue
		}
		raw := strings.TrimSpace(field(row, cols["price"]))
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
			log.Warn().Int("line", line).Str("name", name).Str("price", raw).Msg("skipping item with invalid price")
			continue
		}
		item := domain.CatalogItem{Name: name, Price: price}
		if hasID {
			item.ID = strings.TrimSpace(field(row, idCol))
		}
		items = append(items, item)
	}
	return items, nil
}

// ReadDomains parses a customers CSV with an email column and returns the
// set of their domains. Addresses without a domain part are skipped.
func ReadDomains(r io.Reader, log zerolog.Logger) (domain.DomainSet, error) {
	rows, cols, err := readTable(r, "email")
	if err != nil {
		return nil, err
	}

	set := domain.NewDomainSet()
	for i, row := range rows {
		email := strings.TrimSpace(field(row, cols["email"]))
		at := strings.LastIndex(email, "@")
		if at < 0 || at == len(email)-1 {
			log.Warn().Int("line", i+2).Str("email", email).Msg("skipping customer without email domain")
			continue
		}
		set.Add(email[at+1:])
	}
	return set, nil
}

// readTable reads all records and maps lower-cased header names to column
// indexes, failing when a required column is missing.
func readTable(r io.Reader, required ...string) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", name)
		}
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows, cols, nil
}

func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
