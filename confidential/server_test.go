package confidential

import (
	"net"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

// startServer serves a store on an ephemeral TCP port and returns a client
// pointed at it.
func startServer(t *testing.T, store *Store, maxWorkers int) *Client {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Nil(t, err)
	srv := NewServer(store, nil, maxWorkers)
	go func() { _ = srv.Serve(listener) }()
	t.Cleanup(func() { _ = listener.Close() })
	return NewTCPClient(listener.Addr().String())
}

func TestServer_Ping(t *testing.T) {
	client := startServer(t, newTestStore(t), 4)
	check.Nil(t, client.Ping())
}

func TestServer_KeyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	client := startServer(t, store, 4)

	resp, err := client.FetchKey()
	assert.Nil(t, err)
	check.Equal(t, "key_response", resp.Type)
	// No attester configured, so no attestation document
	check.Equal(t, "", resp.AttestationDoc)

	pub, err := ParsePublicKeyPEM(resp.PublicKey)
	assert.Nil(t, err)
	check.True(t, pub.Equal(store.Keys().PublicKey))
}

func TestServer_ReencryptRoundTrip(t *testing.T) {
	store := newTestStore(t)
	client := startServer(t, store, 4)

	h := store.Register(42, "alice")

	requesterKeys, err := NewKeyManager()
	assert.Nil(t, err)
	requesterPEM, err := requesterKeys.PublicKeyPEM()
	assert.Nil(t, err)

	ev, err := client.Reencrypt(h, "alice", requesterPEM)
	assert.Nil(t, err)
	v, err := requesterKeys.Decrypt(ev)
	assert.Nil(t, err)
	check.Equal(t, uint64(42), v)

	// Requester outside the ACL gets an error envelope, not a value
	_, err = client.Reencrypt(h, "mallory", requesterPEM)
	assert.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), "reencrypt failed"))

	_, err = client.Reencrypt(Handle("no-such-handle"), "alice", requesterPEM)
	check.Error(t, err)
}

func TestServer_UnknownRequestType(t *testing.T) {
	client := startServer(t, newTestStore(t), 4)

	_, err := client.roundTrip(map[string]string{"type": "bogus"})
	assert.NotNil(t, err)
	check.True(t, strings.Contains(err.Error(), "unknown request type"))
}

func TestServer_RejectsWhenPoolFull(t *testing.T) {
	// Zero workers: every connection is rejected before reading the request
	client := startServer(t, newTestStore(t), 0)
	check.Error(t, client.Ping())
}
