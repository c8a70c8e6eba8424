package storage

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewPagination_Boundaries(t *testing.T) {
	tests := []struct {
		name              string
		page, limit, total int
		want              Pagination
	}{
		{
			name: "empty",
			page: 1, limit: 50, total: 0,
			want: Pagination{Page: 1, Limit: 50, Offset: 0, Total: 0, Pages: 0, HasMore: false},
		},
		{
			name: "offset plus limit equals total",
			page: 2, limit: 10, total: 20,
			want: Pagination{Page: 2, Limit: 10, Offset: 10, Total: 20, Pages: 2, HasMore: false},
		},
		{
			name: "offset plus limit exceeds total",
			page: 3, limit: 10, total: 25,
			want: Pagination{Page: 3, Limit: 10, Offset: 20, Total: 25, Pages: 3, HasMore: false},
		},
		{
			name: "more remaining",
			page: 1, limit: 10, total: 11,
			want: Pagination{Page: 1, Limit: 10, Offset: 0, Total: 11, Pages: 2, HasMore: true},
		},
		{
			name: "page past the end",
			page: 5, limit: 10, total: 11,
			want: Pagination{Page: 5, Limit: 10, Offset: 40, Total: 11, Pages: 2, HasMore: false},
		},
		{
			name: "nonsense page and limit",
			page: 0, limit: 0, total: 3,
			want: Pagination{Page: 1, Limit: 1, Offset: 0, Total: 3, Pages: 3, HasMore: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewPagination(tt.page, tt.limit, tt.total)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewOffsetPagination(t *testing.T) {
	got := NewOffsetPagination(20, 40, 60)
	want := Pagination{Page: 3, Limit: 20, Offset: 40, Total: 60, Pages: 3, HasMore: false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
