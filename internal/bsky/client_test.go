package bsky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePDS is a minimal stand-in for a PDS covering the endpoints the client
// uses.
type fakePDS struct {
	t *testing.T

	accessJwt  string
	refreshJwt string

	getPostsCalls    atomic.Int32
	refreshCalls     atomic.Int32
	expireFirstFetch bool

	posts map[string]PostView
}

func newFakePDS(t *testing.T) (*fakePDS, *httptest.Server) {
	pds := &fakePDS{
		t:          t,
		accessJwt:  "access-1",
		refreshJwt: "refresh-1",
		posts:      map[string]PostView{},
	}
	server := httptest.NewServer(pds)
	t.Cleanup(server.Close)
	return pds, server
}

func (p *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/xrpc/com.atproto.server.createSession":
		var body struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&body))
		if body.Password != "good-password" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "AuthenticationRequired",
				"message": "Invalid identifier or password",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  p.accessJwt,
			"refreshJwt": p.refreshJwt,
			"handle":     "embed.example.com",
			"did":        "did:plc:operator",
		})

	case "/xrpc/com.atproto.server.refreshSession":
		p.refreshCalls.Add(1)
		require.Equal(p.t, "Bearer "+p.refreshJwt, r.Header.Get("Authorization"))
		p.accessJwt = "access-2"
		json.NewEncoder(w).Encode(map[string]string{
			"accessJwt":  p.accessJwt,
			"refreshJwt": p.refreshJwt,
			"handle":     "embed.example.com",
			"did":        "did:plc:operator",
		})

	case "/xrpc/com.atproto.identity.resolveHandle":
		handle := r.URL.Query().Get("handle")
		if handle == "missing.example.com" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "InvalidRequest",
				"message": "Unable to resolve handle",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"did": "did:plc:" + handle})

	case "/xrpc/app.bsky.feed.getPosts":
		calls := p.getPostsCalls.Add(1)
		if p.expireFirstFetch && calls == 1 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "ExpiredToken",
				"message": "Token has expired",
			})
			return
		}
		require.Equal(p.t, "Bearer "+p.accessJwt, r.Header.Get("Authorization"))
		uri := r.URL.Query().Get("uris")
		post, ok := p.posts[uri]
		if !ok {
			json.NewEncoder(w).Encode(map[string][]PostView{"posts": {}})
			return
		}
		json.NewEncoder(w).Encode(map[string][]PostView{"posts": {post}})

	default:
		p.t.Errorf("unexpected request path %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func loggedInClient(t *testing.T) (*fakePDS, *Client) {
	pds, server := newFakePDS(t)
	client := NewClient(server.URL)
	require.NoError(t, client.Login(context.Background(), "embed.example.com", "good-password"))
	return pds, client
}

func TestLogin(t *testing.T) {
	t.Run("success stores session", func(t *testing.T) {
		_, client := loggedInClient(t)
		assert.Equal(t, "did:plc:operator", client.DID())
	})

	t.Run("bad credentials surface the XRPC error", func(t *testing.T) {
		_, server := newFakePDS(t)
		client := NewClient(server.URL)

		err := client.Login(context.Background(), "embed.example.com", "wrong")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "AuthenticationRequired")
	})
}

func TestResolveHandle(t *testing.T) {
	_, client := loggedInClient(t)

	t.Run("resolves handle", func(t *testing.T) {
		did, err := client.ResolveHandle(context.Background(), "alice.example.com")
		require.NoError(t, err)
		assert.Equal(t, "did:plc:alice.example.com", did)
	})

	t.Run("passes DIDs through without a round trip", func(t *testing.T) {
		did, err := client.ResolveHandle(context.Background(), "did:plc:abc123")
		require.NoError(t, err)
		assert.Equal(t, "did:plc:abc123", did)
	})

	t.Run("unresolvable handle", func(t *testing.T) {
		_, err := client.ResolveHandle(context.Background(), "missing.example.com")
		require.Error(t, err)

		var xrpcErr *XRPCError
		require.ErrorAs(t, err, &xrpcErr)
		assert.Equal(t, "InvalidRequest", xrpcErr.Code)
	})
}

func TestGetPost(t *testing.T) {
	uri := "at://did:plc:alice/app.bsky.feed.post/3k0001"

	t.Run("returns the hydrated post", func(t *testing.T) {
		pds, client := loggedInClient(t)
		pds.posts[uri] = PostView{
			URI: uri,
			Author: ProfileViewBasic{
				DID:    "did:plc:alice",
				Handle: "alice.example.com",
			},
			Record: PostRecord{Type: TypeFeedPost, Text: "four pictures of my cat"},
			Embed: &EmbedView{
				Type:   TypeEmbedImagesView,
				Images: []ViewImage{{Thumb: "https://cdn.example/thumb1.jpg"}},
			},
		}

		post, err := client.GetPost(context.Background(), uri)
		require.NoError(t, err)
		assert.Equal(t, "alice.example.com", post.Author.Handle)
		require.NotNil(t, post.Embed)
		assert.Equal(t, TypeEmbedImagesView, post.Embed.Type)
	})

	t.Run("empty response maps to ErrNoPost", func(t *testing.T) {
		_, client := loggedInClient(t)
		_, err := client.GetPost(context.Background(), "at://did:plc:nobody/app.bsky.feed.post/1")
		assert.ErrorIs(t, err, ErrNoPost)
	})

	t.Run("expired token refreshes once and retries", func(t *testing.T) {
		pds, client := loggedInClient(t)
		pds.expireFirstFetch = true
		pds.posts[uri] = PostView{URI: uri, Record: PostRecord{Type: TypeFeedPost}}

		post, err := client.GetPost(context.Background(), uri)
		require.NoError(t, err)
		assert.Equal(t, uri, post.URI)
		assert.Equal(t, int32(1), pds.refreshCalls.Load())
		assert.Equal(t, int32(2), pds.getPostsCalls.Load())
	})

	t.Run("unauthenticated client refuses authed calls", func(t *testing.T) {
		_, server := newFakePDS(t)
		client := NewClient(server.URL)

		_, err := client.GetPost(context.Background(), uri)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})
}

func TestProfileViewBasic(t *testing.T) {
	t.Run("gated label detected", func(t *testing.T) {
		profile := ProfileViewBasic{Labels: []Label{{Val: "spam"}, {Val: LabelNoUnauthenticated}}}
		assert.True(t, profile.RequiresAuthentication())
	})

	t.Run("no labels", func(t *testing.T) {
		assert.False(t, ProfileViewBasic{}.RequiresAuthentication())
	})

	t.Run("name falls back to handle", func(t *testing.T) {
		assert.Equal(t, "alice.example.com", ProfileViewBasic{Handle: "alice.example.com"}.Name())
		assert.Equal(t, "Alice", ProfileViewBasic{Handle: "alice.example.com", DisplayName: "Alice"}.Name())
	})
}
