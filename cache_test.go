package folio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weirdwool/folio/content"
	"github.com/weirdwool/folio/contentsync"
)

type countingLoader struct {
	calls int
	posts []content.Post
	err   error
}

func (l *countingLoader) load(context.Context) ([]content.Post, error) {
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return l.posts, nil
}

func TestPostCacheLoadsOnce(t *testing.T) {
	l := &countingLoader{posts: []content.Post{{Slug: "a"}, {Slug: "b"}}}
	c := NewPostCache(l.load, time.Minute)
	ctx := context.Background()

	posts, err := c.ListPosts(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 2)

	p, err := c.GetPost(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", p.Slug)
	assert.Equal(t, 1, l.calls)

	_, err = c.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, contentsync.ErrNotFound)
}

func TestPostCacheInvalidate(t *testing.T) {
	l := &countingLoader{posts: []content.Post{{Slug: "a"}}}
	c := NewPostCache(l.load, time.Minute)
	ctx := context.Background()

	_, err := c.ListPosts(ctx)
	require.NoError(t, err)
	c.Invalidate()
	l.posts = append(l.posts, content.Post{Slug: "b"})

	posts, err := c.ListPosts(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	assert.Equal(t, 2, l.calls)
}

func TestPostCacheExpires(t *testing.T) {
	l := &countingLoader{posts: []content.Post{}}
	c := NewPostCache(l.load, time.Millisecond)
	ctx := context.Background()

	_, err := c.ListPosts(ctx)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.ListPosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, l.calls)
}

func TestPostCacheLoadError(t *testing.T) {
	l := &countingLoader{err: errors.New("disk gone")}
	c := NewPostCache(l.load, time.Minute)

	_, err := c.ListPosts(context.Background())
	assert.EqualError(t, err, "disk gone")

	l.err = nil
	l.posts = []content.Post{}
	_, err = c.ListPosts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, l.calls, "errors are not cached")
}
