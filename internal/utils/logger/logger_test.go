package logger

import (
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

func TestLoggerIsNeverNil(t *testing.T) {
	prev := global
	global = nil
	t.Cleanup(func() { global = prev })

	if Logger() == nil {
		t.Fatal("expected no-op logger before Init")
	}
	Logger().Infof("discarded %d", 1)
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "info", false},
		{"DEBUG", "debug", false},
		{" warn ", "warn", false},
		{"error", "error", false},
		{"loud", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			err := SetLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("SetLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if !tc.wantErr && Level() != tc.want {
				t.Errorf("expected level %q, got %q", tc.want, Level())
			}
		})
	}
}

func TestWriteListToFile(t *testing.T) {
	fs := memfs.New()
	r := &StringListReport{Title: "Fetched Files"}
	r.Add("http://b/2.tgz")
	r.Add("http://a/1.tgz")

	p, err := r.WriteListToFile(fs, "reports")
	if err != nil {
		t.Fatalf("WriteListToFile failed: %v", err)
	}
	if p != "reports/fetchurl-Fetched_Files.txt" {
		t.Errorf("unexpected report path %s", p)
	}

	data, err := util.ReadFile(fs, p)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if got := strings.Split(strings.TrimSpace(string(data)), "\n"); len(got) != 2 || got[0] != "http://a/1.tgz" {
		t.Errorf("unexpected report contents %q", data)
	}
	if len(r.Snapshot()) != 0 {
		t.Error("expected report to be cleared after writing")
	}
}

// addingFS records a url on the report while the report file is being
// created.
type addingFS struct {
	billy.Filesystem
	report *StringListReport
}

func (a addingFS) Create(name string) (billy.File, error) {
	a.report.Add("http://c/late.tgz")
	return a.Filesystem.Create(name)
}

func TestWriteListToFileKeepsItemsAddedDuringWrite(t *testing.T) {
	r := &StringListReport{Title: "FetchedFiles"}
	r.Add("http://a/1.tgz")
	fs := addingFS{Filesystem: memfs.New(), report: r}

	p, err := r.WriteListToFile(fs, "reports")
	if err != nil {
		t.Fatalf("WriteListToFile failed: %v", err)
	}
	data, err := util.ReadFile(fs, p)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if strings.TrimSpace(string(data)) != "http://a/1.tgz" {
		t.Errorf("unexpected report contents %q", data)
	}
	if got := r.Snapshot(); len(got) != 1 || got[0] != "http://c/late.tgz" {
		t.Errorf("expected the late item to be kept for the next write, got %v", got)
	}
}

func TestWriteListToFileKeepsItemsOnFailure(t *testing.T) {
	fs := memfs.New()
	if err := util.WriteFile(fs, "reports", []byte("not a dir"), 0644); err != nil {
		t.Fatal(err)
	}
	r := &StringListReport{Title: "FetchedFiles"}
	r.Add("http://a/1.tgz")

	if _, err := r.WriteListToFile(fs, "reports"); err == nil {
		t.Fatal("expected write below a file to fail")
	}
	if got := r.Snapshot(); len(got) != 1 {
		t.Errorf("expected items to survive a failed write, got %v", got)
	}
}
