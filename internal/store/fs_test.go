package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoadRoundtrip(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = fs.Save(GroupDomains, "example.com", "domain.json", []byte(`{"name":"example.com"}`), true)
	require.NoError(t, err)

	data, err := fs.Load(GroupDomains, "example.com", "domain.json")
	require.NoError(t, err)
	require.Equal(t, `{"name":"example.com"}`, string(data))
}

func TestFileStoreLoadMissingIsNotFound(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = fs.Load(GroupAccounts, "acct-1", "account.json")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
}

func TestFileStoreSaveWithoutCreateRequiresExisting(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = fs.Save(GroupDomains, "example.com", "domain.json", []byte("v1"), false)
	require.Error(t, err)
	require.True(t, IsNotFound(err))

	require.NoError(t, fs.Save(GroupDomains, "example.com", "domain.json", []byte("v1"), true))
	require.NoError(t, fs.Save(GroupDomains, "example.com", "domain.json", []byte("v2"), false))

	data, err := fs.Load(GroupDomains, "example.com", "domain.json")
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestFileStoreSaveWithCreateFailsIfAlreadyExists(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Save(GroupDomains, "example.com", "domain.json", []byte("v1"), true))

	err = fs.Save(GroupDomains, "example.com", "domain.json", []byte("v2"), true)
	require.Error(t, err)
	require.True(t, IsExists(err))

	data, err := fs.Load(GroupDomains, "example.com", "domain.json")
	require.NoError(t, err)
	require.Equal(t, "v1", string(data), "a failed create must not touch the existing record")
}

func TestUpsertCreatesThenUpdates(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, Upsert(fs, GroupChallenges, "tok-1", "key-authorization", []byte("v1")))
	require.NoError(t, Upsert(fs, GroupChallenges, "tok-1", "key-authorization", []byte("v2")))

	data, err := fs.Load(GroupChallenges, "tok-1", "key-authorization")
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestFileStoreRemove(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Save(GroupChallenges, "tok-1", "key-auth", []byte("blob"), true))
	require.NoError(t, fs.Remove(GroupChallenges, "tok-1", "key-auth", false))

	err = fs.Remove(GroupChallenges, "tok-1", "key-auth", false)
	require.Error(t, err)

	require.NoError(t, fs.Remove(GroupChallenges, "tok-1", "key-auth", true))
}

func TestFileStorePurge(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Save(GroupDomains, "example.com", "domain.json", []byte("v1"), true))
	require.NoError(t, fs.Save(GroupDomains, "example.com", "privkey.pem", []byte("key"), true))

	require.NoError(t, fs.Purge(GroupDomains, "example.com"))

	_, err = fs.Load(GroupDomains, "example.com", "domain.json")
	require.True(t, IsNotFound(err))
}

func TestFileStoreListAndMove(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Save(GroupStaging, "example.com", "domain.json", []byte("v1"), true))
	require.NoError(t, fs.Save(GroupStaging, "other.com", "domain.json", []byte("v1"), true))

	names, err := fs.List(GroupStaging, "*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"example.com", "other.com"}, names)

	require.NoError(t, fs.Move(GroupStaging, GroupDomains, "example.com"))

	data, err := fs.Load(GroupDomains, "example.com", "domain.json")
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))

	_, err = fs.Load(GroupStaging, "example.com", "domain.json")
	require.True(t, IsNotFound(err))
}
