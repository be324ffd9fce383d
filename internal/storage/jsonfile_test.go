package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONFile_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")

	reg, err := OpenJSONFile(path)
	if err != nil {
		t.Fatalf("OpenJSONFile: %v", err)
	}
	reg.Insert(testUpload("keep001", "owner-a", 10))
	reg.Insert(testUpload("gone001", "owner-a", 20))
	reg.IncrementViews("keep001")
	if _, err := reg.Remove("gone001"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	reloaded, err := OpenJSONFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, err := reloaded.Find("keep001")
	if err != nil {
		t.Fatalf("Find after reload: %v", err)
	}
	if u.Views != 1 || u.OwnerID != "owner-a" {
		t.Errorf("reloaded = %+v", u)
	}
	if n, _ := reloaded.Deleted(); n != 1 {
		t.Errorf("Deleted after reload = %d, want 1", n)
	}
}

func TestJSONFile_DocumentLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	reg, _ := OpenJSONFile(path)
	reg.Insert(testUpload("layout1", "owner-x", 10))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := doc[MetaKey]; !ok {
		t.Errorf("document has no %s key: %s", MetaKey, data)
	}
	var uploads []map[string]any
	if err := json.Unmarshal(doc["owner-x"], &uploads); err != nil {
		t.Fatalf("owner list: %v", err)
	}
	if len(uploads) != 1 || uploads[0]["short_id"] != "layout1" || uploads[0]["path"] != "2026-10/layout1.png" {
		t.Errorf("owner-x = %v", uploads)
	}
}

func TestJSONFile_MissingAndEmptyFile(t *testing.T) {
	dir := t.TempDir()

	reg, err := OpenJSONFile(filepath.Join(dir, "absent.json"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if got, _ := reg.ListOwner("anyone"); len(got) != 0 {
		t.Errorf("expected empty registry")
	}

	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, nil, 0600)
	if _, err := OpenJSONFile(empty); err != nil {
		t.Fatalf("empty file: %v", err)
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	os.WriteFile(corrupt, []byte("{not json"), 0600)
	if _, err := OpenJSONFile(corrupt); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestJSONFile_FailedSaveRollsBack(t *testing.T) {
	dir := t.TempDir()
	// The registry path is a directory, so every save fails at rename.
	path := filepath.Join(dir, "db.json")
	if err := os.Mkdir(path, 0755); err != nil {
		t.Fatal(err)
	}
	reg := &JSONFile{path: path, owners: map[string][]Upload{}, index: map[string]string{}}

	if err := reg.Insert(testUpload("fail001", "me", 1)); err == nil {
		t.Fatal("expected save error")
	}
	if _, err := reg.Find("fail001"); err == nil {
		t.Error("failed insert should not be visible")
	}
	if got, _ := reg.ListOwner("me"); len(got) != 0 {
		t.Errorf("owner list = %v, want empty after rollback", got)
	}
}
