package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hearthos/service-accounts-go/internal/account/entity"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRegistry(client, zap.NewNop().Sugar(), time.Hour), mr
}

func testAccount(name string) *entity.Account {
	return &entity.Account{UUID: "uuid-" + name, Name: name, Email: name + "@example.com"}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	token, err := reg.Create(ctx, testAccount("alice"))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	found, err := reg.Find(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "alice", found.Name)
	assert.Equal(t, "uuid-alice", found.UUID)

	// the token is indexed under the account identity
	members, err := mr.SMembers("account:uuid-alice:sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{token}, members)
}

func TestFindUnknownToken(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	found, err := reg.Find(ctx, "no-such-token")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindExpiredToken(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	token, err := reg.Create(ctx, testAccount("alice"))
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	found, err := reg.Find(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	acct := testAccount("alice")
	token, err := reg.Create(ctx, acct)
	require.NoError(t, err)

	acct.FullName = "Alice A"
	require.NoError(t, reg.Refresh(ctx, token, acct))

	found, err := reg.Find(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "Alice A", found.FullName)
}

func TestRefreshVanishedTokenIsNoop(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	require.NoError(t, reg.Refresh(ctx, "gone", testAccount("alice")))
	assert.False(t, mr.Exists("session:gone"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	reg, mr := newTestRegistry(t)

	token, err := reg.Create(ctx, testAccount("alice"))
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, token))

	found, err := reg.Find(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, found)

	// index entry went with it
	members, _ := mr.SMembers("account:uuid-alice:sessions")
	assert.Empty(t, members)
}

func TestInvalidateAll(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	alice := testAccount("alice")
	tok1, err := reg.Create(ctx, alice)
	require.NoError(t, err)
	tok2, err := reg.Create(ctx, alice)
	require.NoError(t, err)
	bobTok, err := reg.Create(ctx, testAccount("bob"))
	require.NoError(t, err)

	require.NoError(t, reg.InvalidateAll(ctx, alice.UUID))

	for _, token := range []string{tok1, tok2} {
		found, err := reg.Find(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, found)
	}

	// other identities keep their sessions
	found, err := reg.Find(ctx, bobTok)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "bob", found.Name)
}

func TestInvalidateAllWithNoSessions(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	assert.NoError(t, reg.InvalidateAll(ctx, "uuid-nobody"))
}
