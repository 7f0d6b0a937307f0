package dispatchers

import (
	"reflect"
	"testing"
)

func TestParseBatch(t *testing.T) {
	tests := []struct {
		spec    string
		total   int
		want    int
		wantErr bool
	}{
		{"", 10, 10, false},
		{"3", 10, 3, false},
		{"25%", 8, 2, false},
		{"50%", 3, 1, false},
		{"10%", 5, 1, false}, // rounds down to zero, clamped to one
		{"100%", 4, 4, false},
		{"20", 10, 10, false}, // clamped to total
		{"0", 10, 0, true},
		{"-2", 10, 0, true},
		{"0%", 10, 0, true},
		{"150%", 10, 0, true},
		{"lots", 10, 0, true},
		{"x%", 10, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseBatch(tt.spec, tt.total)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBatch(%q, %d) error = %v, wantErr %v", tt.spec, tt.total, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseBatch(%q, %d) = %d, want %d", tt.spec, tt.total, got, tt.want)
			}
		})
	}
}

func TestPartition(t *testing.T) {
	targets := []string{"a", "b", "c", "d", "e"}

	got := Partition(targets, 2)
	want := [][]string{{"a", "b"}, {"c", "d"}, {"e"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Partition() = %v, want %v", got, want)
	}

	if got := Partition(targets, 10); len(got) != 1 || len(got[0]) != 5 {
		t.Errorf("Partition(oversized) = %v", got)
	}
	if got := Partition(nil, 2); got != nil {
		t.Errorf("Partition(nil) = %v", got)
	}
	if got := Partition(targets, 0); got != nil {
		t.Errorf("Partition(size 0) = %v", got)
	}
}
