package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/comment"
	"github.com/kazz187/worktrack/pkg/cerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

func TestYAMLRepository(t *testing.T) {
	ctx := context.Background()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	var kinds []change.Kind
	repo := NewYAMLRepository(s, change.PublisherFunc(func(ev change.Event) { kinds = append(kinds, ev.Kind) }))

	now := time.Now()
	require.NoError(t, repo.Create(ctx, &comment.Comment{ID: "c2", TaskID: "t1", Kind: comment.KindNote, Body: "later", CreatedAt: now.Add(time.Minute)}))
	require.NoError(t, repo.Create(ctx, &comment.Comment{ID: "c1", TaskID: "t1", Kind: comment.KindComment, Body: "first", CreatedAt: now}))
	require.NoError(t, repo.Create(ctx, &comment.Comment{ID: "c3", TaskID: "t2", Body: "other", CreatedAt: now}))

	list, err := repo.ListByTask(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Body)
	assert.Equal(t, comment.KindNote, list[1].Kind)

	require.NoError(t, repo.Delete(ctx, "c1"))
	assert.True(t, cerr.IsNotFound(repo.Delete(ctx, "c1")))

	assert.Equal(t, []change.Kind{change.Insert, change.Insert, change.Insert, change.Delete}, kinds)
}

func TestValidateBody(t *testing.T) {
	assert.NoError(t, comment.ValidateBody("looks good"))
	assert.True(t, cerr.IsValidation(comment.ValidateBody(" \n\t")))
}
