package roi

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseKeepsOrderAndIsolatesCorruptEntries(t *testing.T) {
	doc := `{
  "Temp_℃": [100, 200, 40, 20],
  "Broken": [1, 2, 3],
  "Level_%": [10.0, 20.0, 30.0, 15.0],
  "NotArray": "x",
  "Mixed": [1, "2", 3, 4],
  "Pump_STATUS": [5, 6, 7, 8]
}`
	entries, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	want := []string{"Temp_℃", "Broken", "Level_%", "NotArray", "Mixed", "Pump_STATUS"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("expected order %v, got %v", want, names)
	}
	for _, i := range []int{1, 3, 4} {
		if !errors.Is(entries[i].Err, ErrCorrupt) {
			t.Errorf("expected %s to be corrupt", entries[i].Name)
		}
	}
	if entries[0].Err != nil || entries[0].X != 100 || entries[0].Height != 20 {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[2].Err != nil || entries[2].Width != 30 {
		t.Errorf("float coordinates should be accepted: %+v", entries[2])
	}
}

func TestParseRejectsNonObject(t *testing.T) {
	if _, err := Parse([]byte(`[1,2,3,4]`)); err == nil {
		t.Error("expected error for non-object document")
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	r := NewRegistry(t.TempDir())
	entries, err := r.Load("MachineA.png")
	if err != nil || len(entries) != 0 {
		t.Errorf("expected empty set, got %v, %v", entries, err)
	}
}

func TestSaveLoadAndVocabulary(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	err := r.Save("MachineA.png", []Entry{
		{Name: "Temp_℃", X: 1, Y: 2, Width: 3, Height: 4},
		{Name: "Run_STATUS", X: 5, Y: 6, Width: 7, Height: 8},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "MachineA.json")); err != nil {
		t.Fatalf("expected MachineA.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "MachineB.json"), []byte(`{"Flow": [0,0,1,1], "Temp_℃": [0,0,1,1]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := r.Load("MachineA.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 2 || entries[1].Name != "Run_STATUS" || entries[1].Height != 8 {
		t.Errorf("unexpected entries %+v", entries)
	}

	got := r.FieldNames(DefaultStatusMarker)
	if !reflect.DeepEqual(got, []string{"Flow", "Temp_℃"}) {
		t.Errorf("unexpected vocabulary %v", got)
	}
}

func TestIsStatus(t *testing.T) {
	if !IsStatus("Pump_STATUS", "") {
		t.Error("expected default marker match")
	}
	if IsStatus("Pump_status", "") {
		t.Error("marker is case sensitive")
	}
	if !IsStatus("Pump[S]", "[S]") {
		t.Error("expected custom marker match")
	}
}
