package remotels

import (
	"context"
	"crypto/tls"
	"strings"
	"testing"
	"time"

	"github.com/gonzalop/ftps"
	"github.com/gonzalop/ftps/internal/ftptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList_AfterUpload(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, ftptest.WithUser("alice", "pw"))
	profile := ftps.Profile{
		Host:      srv.Host(),
		Port:      srv.Port(),
		Username:  "alice",
		Password:  "pw",
		Directory: "/incoming",
	}
	trust := ftps.Pinned(srv.Cert)

	for _, name := range []string{"b.txt", "a.txt"} {
		out := ftps.Upload(context.Background(), profile, name, strings.NewReader("hello"), 5,
			ftps.WithTrustPolicy(trust), ftps.WithTimeout(5*time.Second))
		require.True(t, out.Success, "upload %s: %v", name, out)
	}

	tlsConfig, err := ftps.NewTLSConfig(profile.Host, trust)
	require.NoError(t, err)

	entries, err := List(context.Background(), profile, "", Options{TLSConfig: tlsConfig, Timeout: 5 * time.Second})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "b.txt", entries[1].Name)
	assert.Equal(t, uint64(5), entries[0].Size)
	assert.False(t, entries[0].IsDir())

	e, ok := Find(entries, "b.txt")
	assert.True(t, ok)
	assert.Equal(t, "file", e.Type)
	_, ok = Find(entries, "c.txt")
	assert.False(t, ok)
}

func TestList_RequiresTLS(t *testing.T) {
	t.Parallel()
	_, err := List(context.Background(), ftps.Profile{Host: "127.0.0.1"}, "", Options{})
	assert.Error(t, err)
}

func TestList_BadLogin(t *testing.T) {
	t.Parallel()
	srv := ftptest.New(t, ftptest.WithUser("alice", "pw"))
	profile := ftps.Profile{Host: srv.Host(), Port: srv.Port(), Username: "alice", Password: "nope"}

	_, err := List(context.Background(), profile, "", Options{
		TLSConfig: &tls.Config{InsecureSkipVerify: true},
		Timeout:   5 * time.Second,
	})
	assert.ErrorContains(t, err, "login")
}
