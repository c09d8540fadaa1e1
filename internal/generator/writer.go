package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dataset file names under the output directory.
const (
	OrganizationsFile = "organizations.json"
	EntitiesFile      = "entities.json"
	TransactionsFile  = "transactions.json"
)

// WriteDataset serializes the dataset into one JSON file per collection under dir.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	files := []struct {
		name string
		data any
	}{
		{OrganizationsFile, dataset.Organizations},
		{EntitiesFile, dataset.Entities},
		{TransactionsFile, dataset.Transactions},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.name), f.data); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}

// ErrMissingDataset is returned by ReadDataset when a required file is absent.
var ErrMissingDataset = errors.New("dataset not found")

// ReadDataset loads the files written by WriteDataset. The organizations and
// entities files are optional; transactions.json is required.
func ReadDataset(dir string) (Dataset, error) {
	var ds Dataset
	optional := []struct {
		name   string
		target any
	}{
		{OrganizationsFile, &ds.Organizations},
		{EntitiesFile, &ds.Entities},
	}
	for _, f := range optional {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := readJSON(path, f.target); err != nil {
			return Dataset{}, err
		}
	}

	path := filepath.Join(dir, TransactionsFile)
	if _, err := os.Stat(path); err != nil {
		return Dataset{}, fmt.Errorf("%w: %s", ErrMissingDataset, path)
	}
	if err := readJSON(path, &ds.Transactions); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

func readJSON(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
