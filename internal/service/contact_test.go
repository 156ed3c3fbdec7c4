package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	apperrors "realtime_chat/pkg/errors"
	"realtime_chat/pkg/logger"
)

func newTestContacts(env *testEnv) ContactService {
	return NewContactService(env.repos.Contact, env.repos.User, NewAuditService(env.repos.Audit, logger.NewNop()), ContextIdentity(), logger.NewNop())
}

func TestContactService_AddFriendWritesBothDirections(t *testing.T) {
	env := newTestEnv(t)
	contacts := newTestContacts(env)
	env.createUser(t, "ann", "Ann")
	env.createUser(t, "bob", "Bob")

	edge, err := contacts.AddFriend(as("ann"), "ann", "bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob", edge.FriendName)

	back, err := env.repos.Contact.Get(context.Background(), "bob", "ann")
	require.NoError(t, err)
	assert.Equal(t, "Ann", back.FriendName)

	again, err := contacts.AddFriend(as("ann"), "ann", "bob")
	require.NoError(t, err)
	assert.Equal(t, edge.ID, again.ID)

	list, err := contacts.ListFriends(as("ann"), "ann")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestContactService_AddFriendRepairsMissingDirection(t *testing.T) {
	env := newTestEnv(t)
	contacts := newTestContacts(env)
	env.createUser(t, "ann", "Ann")
	env.createUser(t, "bob", "Bob")

	require.NoError(t, env.repos.Contact.CreateEdges(context.Background(), &domain.Contact{OwnerID: "bob", FriendID: "ann", FriendName: "Ann"}))

	_, err := contacts.AddFriend(as("ann"), "ann", "bob")
	require.NoError(t, err)

	bobs, err := env.repos.Contact.ListByOwner(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
	anns, err := env.repos.Contact.ListByOwner(context.Background(), "ann")
	require.NoError(t, err)
	assert.Len(t, anns, 1)
}

// lateContacts commits the mirrored pair just before the first CreateEdges,
// as if the other user's add landed between the read and the write.
type lateContacts struct {
	repository.ContactRepository
	once sync.Once
}

func (r *lateContacts) CreateEdges(ctx context.Context, edges ...*domain.Contact) error {
	var err error
	r.once.Do(func() {
		err = r.ContactRepository.CreateEdges(ctx,
			&domain.Contact{OwnerID: "bob", FriendID: "ann", FriendName: "Ann"},
			&domain.Contact{OwnerID: "ann", FriendID: "bob", FriendName: "Bob"},
		)
	})
	if err != nil {
		return err
	}
	return r.ContactRepository.CreateEdges(ctx, edges...)
}

func TestContactService_AddFriendLosesRaceToMutualAdd(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "ann", "Ann")
	env.createUser(t, "bob", "Bob")
	repo := &lateContacts{ContactRepository: env.repos.Contact}
	contacts := NewContactService(repo, env.repos.User, NewAuditService(env.repos.Audit, logger.NewNop()), ContextIdentity(), logger.NewNop())

	edge, err := contacts.AddFriend(as("ann"), "ann", "bob")
	require.NoError(t, err)
	assert.Equal(t, "ann", edge.OwnerID)
	assert.Equal(t, "bob", edge.FriendID)

	anns, err := env.repos.Contact.ListByOwner(context.Background(), "ann")
	require.NoError(t, err)
	assert.Len(t, anns, 1)
}

func TestContactService_ConcurrentMutualAdds(t *testing.T) {
	env := newTestEnv(t)
	contacts := newTestContacts(env)
	env.createUser(t, "ann", "Ann")
	env.createUser(t, "bob", "Bob")

	for i := 0; i < 20; i++ {
		require.NoError(t, env.repos.Contact.Delete(context.Background(), "ann", "bob"))
		require.NoError(t, env.repos.Contact.Delete(context.Background(), "bob", "ann"))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = contacts.AddFriend(as("ann"), "ann", "bob")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = contacts.AddFriend(as("bob"), "bob", "ann")
		}()
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
	}

	anns, err := env.repos.Contact.ListByOwner(context.Background(), "ann")
	require.NoError(t, err)
	assert.Len(t, anns, 1)
	bobs, err := env.repos.Contact.ListByOwner(context.Background(), "bob")
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestContactService_AddFriendErrors(t *testing.T) {
	env := newTestEnv(t)
	contacts := newTestContacts(env)
	env.createUser(t, "ann", "Ann")

	_, err := contacts.AddFriend(as("ann"), "ann", "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = contacts.AddFriend(as("ann"), "ann", "ann")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = contacts.AddFriend(as("mallory"), "ann", "bob")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestContactService_RemoveFriendIsOneDirection(t *testing.T) {
	env := newTestEnv(t)
	contacts := newTestContacts(env)
	env.createUser(t, "ann", "Ann")
	env.createUser(t, "bob", "Bob")

	_, err := contacts.AddFriend(as("ann"), "ann", "bob")
	require.NoError(t, err)

	err = contacts.RemoveFriend(as("bob"), "ann", "bob")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, contacts.RemoveFriend(as("ann"), "ann", "bob"))

	anns, err := contacts.ListFriends(as("ann"), "ann")
	require.NoError(t, err)
	assert.Empty(t, anns)
	bobs, err := contacts.ListFriends(as("bob"), "bob")
	require.NoError(t, err)
	assert.Len(t, bobs, 1)
}

func TestContactService_WatchFriends(t *testing.T) {
	env := newTestEnv(t)
	contacts := newTestContacts(env)
	env.createUser(t, "ann", "Ann")
	env.createUser(t, "bob", "Bob")

	updates := make(chan []*domain.Contact, 10)
	sub, err := contacts.WatchFriends("bob", func(c []*domain.Contact) { updates <- c }, nil)
	require.NoError(t, err)
	defer sub.Cancel()

	assert.Empty(t, <-updates)

	_, err = contacts.AddFriend(as("ann"), "ann", "bob")
	require.NoError(t, err)

	got := <-updates
	require.Len(t, got, 1)
	assert.Equal(t, "ann", got[0].FriendID)
}
