package pagination

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		query   string
		want    Page
		wantErr bool
	}{
		{"", Page{Limit: 10}, false},
		{"limit=5&offset=20", Page{Limit: 5, Offset: 20}, false},
		{"limit=0", Page{Limit: 10}, false},
		{"limit=500", Page{Limit: 100}, false},
		{"limit=-1", Page{}, true},
		{"offset=abc", Page{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			p, aerr := Parse(q)
			if tt.wantErr {
				assert.ErrorIs(t, aerr, ErrInvalidPage)
				return
			}
			require.Nil(t, aerr)
			assert.Equal(t, tt.want, p)
		})
	}
}

func TestLinks(t *testing.T) {
	base, err := url.Parse("/api/v3/collections/?namespace=testing&offset=20")
	require.NoError(t, err)

	l := NewLinks(base, 35, Page{Limit: 10, Offset: 20})
	assert.Equal(t, "/api/v3/collections/?limit=10&namespace=testing&offset=0", *l.First)
	assert.Equal(t, "/api/v3/collections/?limit=10&namespace=testing&offset=25", *l.Last)
	assert.Equal(t, "/api/v3/collections/?limit=10&namespace=testing&offset=30", *l.Next)
	assert.Equal(t, "/api/v3/collections/?limit=10&namespace=testing&offset=10", *l.Previous)

	l = NewLinks(base, 35, Page{Limit: 10, Offset: 5})
	assert.Equal(t, "/api/v3/collections/?limit=10&namespace=testing", *l.Previous)

	l = NewLinks(base, 3, Page{Limit: 10})
	assert.Nil(t, l.Next)
	assert.Nil(t, l.Previous)
	assert.Equal(t, "/api/v3/collections/?limit=10&namespace=testing&offset=0", *l.Last)
}

func TestLinkNullability(t *testing.T) {
	base := &url.URL{Path: "/x/"}
	for count := 0; count <= 40; count++ {
		for limit := 1; limit <= 100; limit += 7 {
			for offset := 0; offset <= count; offset++ {
				l := NewLinks(base, count, Page{Limit: limit, Offset: offset})
				assert.Equal(t, offset+limit >= count, l.Next == nil, "count=%d limit=%d offset=%d", count, limit, offset)
				assert.Equal(t, offset == 0, l.Previous == nil, "count=%d limit=%d offset=%d", count, limit, offset)
				require.NotNil(t, l.First)
				require.NotNil(t, l.Last)
			}
		}
	}
}
