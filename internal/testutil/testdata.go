package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"

	"github.com/edgeflare/advres/pkg/store"
)

// LoadJSON reads and unmarshals a JSON file from the testdata directory into target.
func LoadJSON(filename string, target any) error {
	_, currentFile, _, _ := runtime.Caller(0)
	dir := filepath.Join(filepath.Dir(currentFile), "testdata")

	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// LoadRecords reads a JSON array of documents from the testdata directory.
func LoadRecords(filename string) ([]store.Record, error) {
	var recs []store.Record
	if err := LoadJSON(filename, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Bootcamps returns the bootcamp fixtures.
func Bootcamps() []store.Record {
	recs, err := LoadRecords("bootcamps.json")
	if err != nil {
		panic(err)
	}
	return recs
}

// Courses returns the course fixtures, each referencing a bootcamp by _id.
func Courses() []store.Record {
	recs, err := LoadRecords("courses.json")
	if err != nil {
		panic(err)
	}
	return recs
}
