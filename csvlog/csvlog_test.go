package csvlog

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterLayout(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2024, 3, 1, 10, 22, 5, 0, time.UTC)
	w, err := NewWriter(&buf, "logstate", Columns, now)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInts(12, -500, 1000, 2048, 1900); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteInts(1, 2); err == nil {
		t.Error("expected error for short row")
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	want := "# saved by logstate at 2024-03-01T10:22:05Z\n" +
		"timestamp,dac1,dac2,adc1,adc2\n" +
		"12,-500,1000,2048,1900\n"
	if buf.String() != want {
		t.Errorf("got\n%s\nwant\n%s", buf.String(), want)
	}
	if w.Rows() != 1 {
		t.Errorf("rows = %d, want 1", w.Rows())
	}
}

func TestCreateAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(time.Date(2024, 3, 1, 10, 22, 5, 0, time.Local), "H1"))
	if filepath.Base(path) != "2024-03-01T10.22.05H1.csv" {
		t.Fatalf("file name = %s", filepath.Base(path))
	}
	w, err := Create(path, "qpdscan", Columns, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 3; i++ {
		if err := w.WriteInts(i, i*10, -i*10, 2000+i, 2100-i); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	samples, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 3 {
		t.Fatalf("read %d samples, want 3", len(samples))
	}
	if s := samples[2]; s.Timestamp != 2 || s.DAC1 != 20 || s.DAC2 != -20 || s.ADC1 != 2002 || s.ADC2 != 2098 {
		t.Errorf("sample[2] = %+v", s)
	}
}

func TestRead(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		n       int
		wantErr string
	}{
		{name: "header reordered", in: "adc1,adc2,dac1,dac2\n1,2,3,4\n", n: 1},
		{name: "headerless five", in: "# c\n0,1,2,3,4\n5,6,7,8,9\n", n: 2},
		{name: "headerless four", in: "1,2,3,4\n", n: 1},
		{name: "missing column", in: "dac1,dac2,adc1\n1,2,3\n", wantErr: `missing column "adc2"`},
		{name: "bad value", in: "dac1,dac2,adc1,adc2\n1,2,3,4\n1,x,3,4\n", wantErr: "line 3: column dac2"},
		{name: "empty", in: "# only a comment\n", wantErr: "empty file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(strings.NewReader(tt.in))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("got err %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.n {
				t.Errorf("got %d samples, want %d", len(got), tt.n)
			}
		})
	}
}

func TestReadHeaderOrder(t *testing.T) {
	got, err := Read(strings.NewReader("adc1,adc2,dac1,dac2\n1,2,3,4\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s := got[0]; s.ADC1 != 1 || s.ADC2 != 2 || s.DAC1 != 3 || s.DAC2 != 4 {
		t.Errorf("sample = %+v", s)
	}
}
