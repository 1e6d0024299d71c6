package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.csv")
	body := "time,humidity,temperature\n10:00,40.5,21.2\n11:00,41,-3.5\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write csv failed: %v", err)
	}
	next, err := newSource(path, 0)
	if err != nil {
		t.Fatalf("newSource failed: %v", err)
	}
	want := []sample{{21.2, 40.5}, {-3.5, 41}, {21.2, 40.5}}
	for i, w := range want {
		got, _ := next()
		if got != w {
			t.Fatalf("sample %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestLoadCSVErrors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"empty.csv":   "temperature,humidity\n",
		"columns.csv": "temp,hum\n1,2\n",
		"value.csv":   "temperature,humidity\nwarm,2\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write csv failed: %v", err)
		}
		if _, err := loadCSV(path); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestRandomWalkSource(t *testing.T) {
	next, err := newSource("", 42)
	if err != nil {
		t.Fatalf("newSource failed: %v", err)
	}
	s, err := next()
	if err != nil || s.humidity < 0 || s.humidity > 100 {
		t.Fatalf("unexpected sample %+v %v", s, err)
	}
}
